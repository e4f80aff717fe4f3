package relaytest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/relay"
)

// Recorder is a relay.Listener that turns every callback into a line of
// text on a channel, for tests to wait on.
type Recorder struct {
	C chan string
}

var _ relay.Listener = (*Recorder)(nil)

func NewRecorder() *Recorder { return &Recorder{C: make(chan string, 1024)} }

func (r *Recorder) put(format string, a ...any) {
	select {
	case r.C <- fmt.Sprintf(format, a...):
	default:
	}
}

func (r *Recorder) OnEvent(c relay.Client, subID string, ev *event.T, _ timestamp.T, afterEOSE bool) {
	r.put("event %s %s %v", subID, ev.ID, afterEOSE)
}
func (r *Recorder) OnEOSE(c relay.Client, subID string, _ timestamp.T) { r.put("eose %s", subID) }
func (r *Recorder) OnError(c relay.Client, subID string, err error)    { r.put("error %s", err) }
func (r *Recorder) OnRelayStateChange(c relay.Client, s relay.State)   { r.put("state %s", s) }
func (r *Recorder) OnSendResponse(c relay.Client, id string, ok bool, msg string) {
	r.put("ok %s %v %s", id, ok, msg)
}
func (r *Recorder) OnAuth(c relay.Client, challenge string)       { r.put("auth %s", challenge) }
func (r *Recorder) OnNotify(c relay.Client, d string)             { r.put("notice %s", d) }
func (r *Recorder) OnClosed(c relay.Client, subID, msg string)    { r.put("closed %s %s", subID, msg) }
func (r *Recorder) OnSend(c relay.Client, msg string, ok bool)    { r.put("send %v %s", ok, msg) }
func (r *Recorder) OnBeforeSend(c relay.Client, ev *event.T)      { r.put("beforesend %s", ev.ID) }
func (r *Recorder) OnCount(c relay.Client, subID string, n int64) { r.put("count %s %d", subID, n) }

// WaitFor reads lines until one starts with prefix, failing the test after
// a few seconds.
func (r *Recorder) WaitFor(t testing.TB, prefix string) string {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case line := <-r.C:
			if strings.HasPrefix(line, prefix) {
				return line
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", prefix)
			return ""
		}
	}
}
