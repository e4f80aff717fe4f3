package wsclient

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filters"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/relay/relaytest"
)

func note(content string, createdAt timestamp.T) (ev *event.T) {
	ev = &event.T{PubKey: strings.Repeat("a", 64), CreatedAt: createdAt,
		Kind: 1, Tags: event.Tags{}, Content: content}
	ev.ID = ev.GetID()
	return
}

func connect(t *testing.T, srv *relaytest.Server) (*T, *relaytest.Recorder) {
	rec := relaytest.NewRecorder()
	c := New(srv.URL(), rec)
	assert.True(t, c.NeedsToReconnect())
	c.Connect()
	rec.WaitFor(t, "state connected")
	require.True(t, c.IsConnected())
	assert.False(t, c.NeedsToReconnect())
	return c, rec
}

func TestRequestEventsAndEOSE(t *testing.T) {
	srv := relaytest.NewServer()
	defer srv.Shutdown()
	stored := note("stored", 100)
	srv.Store(stored)
	c, rec := connect(t, srv)
	defer c.Disconnect()

	c.SendRequest("sub1", filters.T{{Kinds: []int{1}}})
	assert.Equal(t, "event sub1 "+stored.ID+" false", rec.WaitFor(t, "event"))
	assert.Equal(t, "eose sub1", rec.WaitFor(t, "eose"))

	live := note("live", 200)
	c.Send(live)
	assert.Equal(t, "beforesend "+live.ID, rec.WaitFor(t, "beforesend"))
	assert.Equal(t, "ok "+live.ID+" true ", rec.WaitFor(t, "ok"))

	// asking again on the same id starts a new stored-events phase
	c.SendRequest("sub1", filters.T{{Kinds: []int{1}}})
	assert.Equal(t, "event sub1 "+stored.ID+" false", rec.WaitFor(t, "event"))

	c.SendCount("c1", filters.T{{Kinds: []int{1}}})
	assert.Equal(t, "count c1 2", rec.WaitFor(t, "count"))

	c.Close("sub1")
	require.Eventually(t, func() bool {
		for _, m := range srv.Received() {
			if m == `["CLOSE","sub1"]` {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAfterEOSEFlag(t *testing.T) {
	srv := relaytest.NewServer()
	defer srv.Shutdown()
	c, rec := connect(t, srv)
	defer c.Disconnect()
	c.SendRequest("s", filters.T{{Kinds: []int{1}}})
	rec.WaitFor(t, "eose s")
	c.dispatch([]byte(`["EVENT","s",` + note("x", 5).String() + `]`))
	assert.True(t, strings.HasSuffix(rec.WaitFor(t, "event s"), " true"))
	c.dispatch([]byte(`["CLOSED","s","done"]`))
	assert.Equal(t, "closed s done", rec.WaitFor(t, "closed"))
	c.dispatch([]byte(`["EVENT","s",` + note("y", 6).String() + `]`))
	assert.True(t, strings.HasSuffix(rec.WaitFor(t, "event s"), " false"))
}

func TestNoticeAndAuth(t *testing.T) {
	srv := relaytest.NewServer()
	srv.Challenge = "prove-it"
	defer srv.Shutdown()
	c, rec := connect(t, srv)
	defer c.Disconnect()
	assert.Equal(t, "auth prove-it", rec.WaitFor(t, "auth"))
	ev := event.NewAuth("prove-it", string(c.URL()))
	ev.ID = ev.GetID()
	c.SendAuth(ev)
	assert.Equal(t, "ok "+ev.ID+" true ", rec.WaitFor(t, "ok"))

	c.dispatch([]byte(`["NOTICE","slow down"]`))
	assert.Equal(t, "notice slow down", rec.WaitFor(t, "notice"))
	assert.Equal(t, "error relay notice: slow down", rec.WaitFor(t, "error"))
}

func TestCompressedTraffic(t *testing.T) {
	srv := relaytest.NewServer()
	srv.Compress = true
	srv.Challenge = "squeeze"
	defer srv.Shutdown()
	c, rec := connect(t, srv)
	defer c.Disconnect()
	assert.Equal(t, "auth squeeze", rec.WaitFor(t, "auth"))

	const n = 20
	want := make(map[string]bool)
	for i := 0; i < n; i++ {
		ev := note(fmt.Sprint("deflated ", i), timestamp.T(300+i))
		want["ok "+ev.ID+" true "] = true
		c.Send(ev)
		c.SendRequest(fmt.Sprint("r", i), filters.T{{Kinds: []int{1}}})
	}
	for len(want) > 0 {
		delete(want, rec.WaitFor(t, "ok "))
	}
	assert.Zero(t, srv.Plain())
}

func TestDroppedConnection(t *testing.T) {
	srv := relaytest.NewServer()
	defer srv.Shutdown()
	c, rec := connect(t, srv)
	srv.DropConnections()
	rec.WaitFor(t, "state disconnected")
	assert.False(t, c.IsConnected())
	assert.True(t, c.NeedsToReconnect())
	c.ConnectIfDisconnected()
	rec.WaitFor(t, "state connected")
	c.Disconnect()
	rec.WaitFor(t, "state disconnecting")
	rec.WaitFor(t, "state disconnected")
	assert.False(t, c.IsConnected())
}

func TestNotConnected(t *testing.T) {
	rec := relaytest.NewRecorder()
	c := New("ws://127.0.0.1:1", rec, WithClock(clock.NewMock()))
	c.Close("x")
	c.SendAuth(note("a", 1))
	select {
	case line := <-rec.C:
		t.Fatalf("unexpected callback %q", line)
	default:
	}
}

func TestBackoff(t *testing.T) {
	mock := clock.NewMock()
	rec := relaytest.NewRecorder()
	// nothing listens on port 1, so every dial is refused
	c := New(relayurl.T("ws://127.0.0.1:1"), rec, WithClock(mock),
		WithDialTimeout(time.Second))
	c.Connect()
	rec.WaitFor(t, "state disconnected")
	assert.False(t, c.NeedsToReconnect())
	assert.Equal(t, 2*MinBackoff, c.Backoff())
	mock.Add(MinBackoff)
	assert.True(t, c.NeedsToReconnect())

	c.ConnectIfDisconnected()
	rec.WaitFor(t, "state disconnected")
	mock.Add(MinBackoff)
	assert.False(t, c.NeedsToReconnect())
	mock.Add(MinBackoff)
	assert.True(t, c.NeedsToReconnect())
	assert.Equal(t, 4*MinBackoff, c.Backoff())

	// requests made without a connection trigger a connection attempt
	c.SendRequest("s", filters.T{&filter.T{Kinds: []int{1}}})
	rec.WaitFor(t, "state connecting")
	rec.WaitFor(t, "state disconnected")
}
