package eose

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hubmakerlabs/poolr/pkg/client"
	"github.com/Hubmakerlabs/poolr/pkg/coalesce"
	"github.com/Hubmakerlabs/poolr/pkg/eose/store"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayfilter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/relay"
	"github.com/Hubmakerlabs/poolr/pkg/relay/relaytest"
)

const (
	A = relayurl.T("wss://a.com")
	B = relayurl.T("wss://b.com")
)

var _ Client = (*client.T)(nil)

// fakeClient records what managers ask of the pool.
type fakeClient struct {
	mx         sync.Mutex
	reqs       map[string][]relayfilter.T
	closed     []string
	listeners  []relay.Listener
	reconnects int
}

func newFakeClient() *fakeClient {
	return &fakeClient{reqs: make(map[string][]relayfilter.T)}
}

func (f *fakeClient) OpenReqSubscription(subID string, list []relayfilter.T) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.reqs[subID] = list
}

func (f *fakeClient) Close(subID string) {
	f.mx.Lock()
	defer f.mx.Unlock()
	delete(f.reqs, subID)
	f.closed = append(f.closed, subID)
}

func (f *fakeClient) Subscribe(l relay.Listener) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.listeners = append(f.listeners, l)
}

func (f *fakeClient) Unsubscribe(l relay.Listener) {
	f.mx.Lock()
	defer f.mx.Unlock()
	for i, x := range f.listeners {
		if x == l {
			f.listeners = append(f.listeners[:i:i], f.listeners[i+1:]...)
			return
		}
	}
}

func (f *fakeClient) Reconnect(bool) {
	f.mx.Lock()
	f.reconnects++
	f.mx.Unlock()
}

func (f *fakeClient) open() map[string][]relayfilter.T {
	f.mx.Lock()
	defer f.mx.Unlock()
	out := make(map[string][]relayfilter.T, len(f.reqs))
	for k, v := range f.reqs {
		out[k] = v
	}
	return out
}

func (f *fakeClient) eose(rl relayurl.T, subID string, at timestamp.T) {
	f.mx.Lock()
	ls := append([]relay.Listener(nil), f.listeners...)
	f.mx.Unlock()
	r := relaytest.NewFake(rl, nil)
	for _, l := range ls {
		l.OnEOSE(r, subID, at)
	}
}

func (f *fakeClient) event(rl relayurl.T, subID string, ev *event.T, at timestamp.T,
	afterEOSE bool) {

	f.mx.Lock()
	ls := append([]relay.Listener(nil), f.listeners...)
	f.mx.Unlock()
	r := relaytest.NewFake(rl, nil)
	for _, l := range ls {
		l.OnEvent(r, subID, ev, at, afterEOSE)
	}
}

// builds records the arguments of every Builder call.
type builds struct {
	mx    sync.Mutex
	calls []buildCall
}

type buildCall struct {
	keys  []string
	marks *Marks
}

func (b *builds) build(keys []string, marks *Marks) []relayfilter.T {
	b.mx.Lock()
	b.calls = append(b.calls, buildCall{keys, marks})
	b.mx.Unlock()
	return marks.PerRelay(relayurl.NewSet(A, B), &filter.T{Authors: keys})
}

func (b *builds) last() buildCall {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.calls[len(b.calls)-1]
}

func id(s string) string { return s }

func TestMarksAreMonotonic(t *testing.T) {
	m := NewMarks()
	assert.Nil(t, m.Since(A))
	assert.True(t, m.Advance(A, 10))
	assert.False(t, m.Advance(A, 5))
	assert.False(t, m.Advance(A, 10))
	assert.Equal(t, timestamp.T(10), *m.Since(A))
	m.Merge(map[relayurl.T]timestamp.T{A: 3, B: 4})
	assert.Equal(t, map[relayurl.T]timestamp.T{A: 10, B: 4}, m.Snapshot())

	var none *Marks
	assert.False(t, none.Advance(A, 1))
	assert.Nil(t, none.Since(A))
	assert.Nil(t, none.Snapshot())
}

func TestPerRelay(t *testing.T) {
	m := NewMarks()
	m.Advance(A, 100)
	later := &filter.T{Kinds: []int{1}, Since: timestamp.T(200).Ptr()}
	plain := &filter.T{Kinds: []int{2}}
	list := m.PerRelay(relayurl.NewSet(A, B), plain, later)
	require.Len(t, list, 4)
	assert.Equal(t, A, list[0].Relay)
	assert.Equal(t, timestamp.T(100), *list[0].Filter.Since)
	assert.Equal(t, timestamp.T(200), *list[1].Filter.Since)
	assert.Equal(t, B, list[2].Relay)
	assert.Nil(t, list[2].Filter.Since)
	assert.Nil(t, plain.Since, "input filters are not changed")
}

func TestKeyedKeepsMarks(t *testing.T) {
	inits := 0
	k := NewKeyed[string](func(key string, m *Marks) {
		inits++
		m.Advance(A, 1)
	})
	k.Get("x").Advance(A, 5)
	assert.Equal(t, timestamp.T(5), *k.Get("x").Since(A))
	assert.Equal(t, 1, inits)
	_, ok := k.Peek("y")
	assert.False(t, ok)
	k.Delete("x")
	assert.Equal(t, timestamp.T(1), *k.Get("x").Since(A))
	assert.Equal(t, 2, inits)
	assert.Equal(t, 1, k.Len())
}

func TestKeyRegistry(t *testing.T) {
	changes := 0
	r := NewKeyRegistry[string](func() { changes++ })
	c1 := r.Add("a")
	c2 := r.Add("a")
	r.Add("b")
	assert.Equal(t, []string{"a", "a", "b"}, r.All())
	c1()
	c1()
	assert.Equal(t, []string{"a", "b"}, r.All())
	assert.Equal(t, 4, changes)
	r.Close()
	c2()
	assert.Equal(t, 4, changes)
	r.Add("c")
	assert.Equal(t, 0, r.Len())
}

func TestPerUniqueIDSharesAndCloses(t *testing.T) {
	c := newFakeClient()
	b := &builds{}
	m := PerUniqueID[string](c, id, b.build)
	defer m.Destroy()

	m.UpdateSubscriptions([]string{"x", "x", "y"})
	ids := m.SubscriptionIDs()
	require.Len(t, ids, 2)
	assert.Len(t, c.open(), 2)
	assert.Len(t, c.open()[ids["x"]], 2, "one filter per relay")

	c.eose(A, ids["x"], 100)
	c.eose(A, ids["x"], 50)
	c.eose(B, ids["y"], 70)
	assert.Equal(t, map[relayurl.T]timestamp.T{A: 100}, m.Since("x"))
	assert.Equal(t, map[relayurl.T]timestamp.T{B: 70}, m.Since("y"))

	// y goes away and is closed in the same pass
	m.UpdateSubscriptions([]string{"x"})
	assert.Equal(t, []string{ids["y"]}, c.closed)
	assert.NotContains(t, m.SubscriptionIDs(), "y")
	// x kept its subscription and now asks only for what is newer
	assert.Equal(t, ids["x"], m.SubscriptionIDs()["x"])
	list := c.open()[ids["x"]]
	assert.Equal(t, timestamp.T(100), *list[0].Filter.Since)

	// y comes back and starts from its old marks
	m.UpdateSubscriptions([]string{"x", "y"})
	last := b.last()
	assert.Equal(t, []string{"y"}, last.keys)
	assert.Equal(t, timestamp.T(70), *last.marks.Since(B))
	newY := m.SubscriptionIDs()["y"]
	assert.NotEqual(t, ids["y"], newY)
	assert.Equal(t, timestamp.T(70), *c.open()[newY][1].Filter.Since)
}

func TestLiveEventsAdvanceMarks(t *testing.T) {
	c := newFakeClient()
	b := &builds{}
	var got []string
	var mx sync.Mutex
	m := PerUser[string](c, id, b.build, WithOnEvent(func(ev *event.T, rl relayurl.T) {
		mx.Lock()
		got = append(got, ev.ID)
		mx.Unlock()
	}))
	defer m.Destroy()
	m.UpdateSubscriptions([]string{"alice"})
	sub := m.SubscriptionIDs()["alice"]
	c.event(A, sub, &event.T{ID: "old"}, 10, false)
	assert.Empty(t, m.Since("alice"))
	c.eose(A, sub, 20)
	c.event(A, sub, &event.T{ID: "new"}, 30, true)
	assert.Equal(t, map[relayurl.T]timestamp.T{A: 30}, m.Since("alice"))
	c.event(A, "unknown", &event.T{ID: "stray"}, 40, true)
	c.eose(A, "unknown", 40)
	assert.Equal(t, []string{"old", "new"}, got)
	assert.Equal(t, map[relayurl.T]timestamp.T{A: 30}, m.Since("alice"))
}

func TestPerUserAndFollowList(t *testing.T) {
	type key struct{ user, list string }
	c := newFakeClient()
	var marks []*Marks
	m := PerUserAndFollowList[key](c,
		func(k key) UserList { return UserList{User: k.user, List: k.list} },
		func(keys []key, m *Marks) []relayfilter.T {
			marks = append(marks, m)
			return m.PerRelay(relayurl.NewSet(A), &filter.T{Authors: []string{keys[0].user}})
		})
	defer m.Destroy()
	m.UpdateSubscriptions([]key{{"alice", "follows"}})
	sub := m.SubscriptionIDs()["alice:follows"]
	c.eose(A, sub, 100)

	// a different list of the same user has marks of its own
	m.UpdateSubscriptions([]key{{"alice", "mutes"}})
	assert.Equal(t, []string{sub}, c.closed)
	assert.Nil(t, marks[len(marks)-1].Since(A))
	assert.Empty(t, m.Since(key{"alice", "mutes"}))

	m.UpdateSubscriptions([]key{{"alice", "follows"}})
	assert.Equal(t, timestamp.T(100), *marks[len(marks)-1].Since(A))
}

func TestSingleSub(t *testing.T) {
	c := newFakeClient()
	b := &builds{}
	m := SingleSub[string](c, id, b.build)
	defer m.Destroy()
	m.UpdateSubscriptions([]string{"a", "b", "a", "c"})
	ids := m.SubscriptionIDs()
	require.Len(t, ids, 1)
	assert.Equal(t, []string{"a", "b", "c"}, b.last().keys)
	c.eose(A, ids[single], 10)
	assert.Equal(t, map[relayurl.T]timestamp.T{A: 10}, m.Since("anything"))

	m.UpdateSubscriptions([]string{"b"})
	assert.Equal(t, ids, m.SubscriptionIDs())
	assert.Equal(t, timestamp.T(10), *b.last().marks.Since(A))

	m.UpdateSubscriptions(nil)
	assert.Empty(t, m.SubscriptionIDs())
	assert.Equal(t, []string{ids[single]}, c.closed)
}

func TestSingleSubNoEoseCache(t *testing.T) {
	c := newFakeClient()
	b := &builds{}
	var eoses []relayurl.T
	m := SingleSubNoEoseCache[string](c, id, b.build,
		WithOnEOSE(func(group string, rl relayurl.T) {
			assert.Equal(t, single, group)
			eoses = append(eoses, rl)
		}))
	defer m.Destroy()
	m.UpdateSubscriptions([]string{"a"})
	sub := m.SubscriptionIDs()[single]
	c.eose(A, sub, 10)
	c.event(A, sub, &event.T{ID: "live"}, 11, true)
	assert.Equal(t, []relayurl.T{A}, eoses)
	assert.Nil(t, m.Since("a"))
	m.UpdateSubscriptions([]string{"a", "b"})
	assert.Nil(t, b.last().marks)
	for _, rf := range c.open()[sub] {
		assert.Nil(t, rf.Filter.Since)
	}
}

func TestInvalidateIsCoalesced(t *testing.T) {
	mock := clock.NewMock()
	c := newFakeClient()
	b := &builds{}
	m := PerUniqueID[string](c, id, b.build, WithClock(mock))
	defer m.Destroy()
	cancelX := m.Subscribe("x")
	m.Subscribe("y")
	m.InvalidateFilters()
	mock.Add(coalesce.DefaultWindow / 2)
	assert.Empty(t, c.open())
	mock.Add(coalesce.DefaultWindow)
	require.Eventually(t, func() bool { return len(c.open()) == 2 },
		time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		c.mx.Lock()
		defer c.mx.Unlock()
		return c.reconnects == 1
	}, time.Second, 5*time.Millisecond)

	cancelX()
	mock.Add(coalesce.DefaultWindow)
	require.Eventually(t, func() bool { return len(c.open()) == 1 },
		time.Second, 5*time.Millisecond)
}

func TestDestroyClosesEverything(t *testing.T) {
	c := newFakeClient()
	b := &builds{}
	m := PerUniqueID[string](c, id, b.build)
	m.UpdateSubscriptions([]string{"x", "y"})
	require.Len(t, c.listeners, 1)
	m.Destroy()
	assert.Empty(t, c.open())
	assert.Len(t, c.closed, 2)
	assert.Empty(t, c.listeners)
	assert.Empty(t, m.SubscriptionIDs())
	assert.Equal(t, 0, m.ctl.Len())
}

func TestNothingReopensAfterDestroy(t *testing.T) {
	c := newFakeClient()
	b := &builds{}
	m := PerUniqueID[string](c, id, b.build)
	m.Subscribe("x")
	m.Destroy()
	// a rebuild that read the keys before Destroy finishes after it
	assert.False(t, m.UpdateSubscriptions([]string{"x", "y"}))
	m.ForceInvalidate()
	assert.Empty(t, c.open())
	assert.Empty(t, m.SubscriptionIDs())
	c.mx.Lock()
	defer c.mx.Unlock()
	assert.Zero(t, c.reconnects)
	assert.Empty(t, c.listeners)
}

func TestMarksSurviveRestart(t *testing.T) {
	s := store.NewMemory()
	c := newFakeClient()
	b := &builds{}
	m := PerUniqueID[string](c, id, b.build, WithStore(s, "feed"))
	m.UpdateSubscriptions([]string{"x"})
	c.eose(A, m.SubscriptionIDs()["x"], 500)
	m.Destroy()

	b = &builds{}
	m = PerUniqueID[string](newFakeClient(), id, b.build, WithStore(s, "feed"))
	defer m.Destroy()
	m.UpdateSubscriptions([]string{"x"})
	assert.Equal(t, timestamp.T(500), *b.last().marks.Since(A))

	other := PerUniqueID[string](newFakeClient(), id, b.build, WithStore(s, "other"))
	defer other.Destroy()
	other.UpdateSubscriptions([]string{"x"})
	assert.Nil(t, b.last().marks.Since(A))
}

func TestAgainstRelay(t *testing.T) {
	srv := relaytest.NewServer()
	defer srv.Shutdown()
	ev := &event.T{PubKey: strings.Repeat("a", 64), CreatedAt: 10, Kind: 1,
		Tags: event.Tags{}, Content: "gm"}
	ev.ID = ev.GetID()
	srv.Store(ev)

	c := client.New(client.WithWindow(10 * time.Millisecond))
	defer c.Shutdown()
	got := make(chan string, 10)
	m := SingleSub[string](c, id, func(keys []string, marks *Marks) []relayfilter.T {
		return marks.PerRelay(relayurl.NewSet(srv.URL()), &filter.T{Authors: keys})
	}, WithWindow(10*time.Millisecond), WithOnEvent(func(ev *event.T, rl relayurl.T) {
		got <- ev.ID
	}))
	defer m.Destroy()
	m.Subscribe(ev.PubKey)
	select {
	case evID := <-got:
		assert.Equal(t, ev.ID, evID)
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}
	require.Eventually(t, func() bool { return len(m.Since(ev.PubKey)) == 1 },
		5*time.Second, 10*time.Millisecond)
}
