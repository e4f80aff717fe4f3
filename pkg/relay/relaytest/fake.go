// Package relaytest has a recording relay.Client and an in-process relay
// server for tests.
package relaytest

import (
	"sync"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filters"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/relay"
)

// Call is one recorded method call on a Fake.
type Call struct {
	Method  string
	SubID   string
	Filters filters.T
	Event   *event.T
}

// Fake is a relay.Client that records what it is asked to do. Connect and
// Disconnect take effect immediately and are reported to the listener.
type Fake struct {
	url      relayurl.T
	Listener relay.Listener

	mx        sync.Mutex
	connected bool
	// Refuse makes Connect fail.
	Refuse bool
	calls  []Call
}

var _ relay.Client = (*Fake)(nil)

func NewFake(url relayurl.T, l relay.Listener) *Fake {
	if l == nil {
		l = relay.NopListener{}
	}
	return &Fake{url: url, Listener: l}
}

func (f *Fake) record(c Call) {
	f.mx.Lock()
	f.calls = append(f.calls, c)
	f.mx.Unlock()
}

// Calls returns the recorded calls, optionally only those of one method.
func (f *Fake) Calls(method ...string) (out []Call) {
	f.mx.Lock()
	defer f.mx.Unlock()
	for _, c := range f.calls {
		if len(method) == 0 || c.Method == method[0] {
			out = append(out, c)
		}
	}
	return
}

func (f *Fake) Reset() {
	f.mx.Lock()
	f.calls = nil
	f.mx.Unlock()
}

func (f *Fake) URL() relayurl.T { return f.url }

func (f *Fake) IsConnected() bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.connected
}

func (f *Fake) NeedsToReconnect() bool { return !f.IsConnected() }

func (f *Fake) Connect() {
	f.record(Call{Method: "Connect"})
	f.mx.Lock()
	if f.connected {
		f.mx.Unlock()
		return
	}
	refuse := f.Refuse
	f.connected = !refuse
	f.mx.Unlock()
	f.Listener.OnRelayStateChange(f, relay.Connecting)
	if refuse {
		f.Listener.OnRelayStateChange(f, relay.Disconnected)
		return
	}
	f.Listener.OnRelayStateChange(f, relay.Connected)
}

func (f *Fake) ConnectIfDisconnected() {
	if !f.IsConnected() {
		f.Connect()
	}
}

func (f *Fake) Disconnect() {
	f.record(Call{Method: "Disconnect"})
	f.mx.Lock()
	was := f.connected
	f.connected = false
	f.mx.Unlock()
	if was {
		f.Listener.OnRelayStateChange(f, relay.Disconnected)
	}
}

// Drop simulates the relay closing the connection.
func (f *Fake) Drop() {
	f.mx.Lock()
	f.connected = false
	f.mx.Unlock()
	f.Listener.OnRelayStateChange(f, relay.Disconnected)
}

func (f *Fake) SendRequest(subID string, ff filters.T) {
	f.record(Call{Method: "SendRequest", SubID: subID, Filters: ff})
}

func (f *Fake) SendCount(subID string, ff filters.T) {
	f.record(Call{Method: "SendCount", SubID: subID, Filters: ff})
}

func (f *Fake) Send(ev *event.T) {
	if !f.IsConnected() {
		return
	}
	f.Listener.OnBeforeSend(f, ev)
	f.record(Call{Method: "Send", Event: ev})
}

func (f *Fake) SendAuth(ev *event.T) {
	f.record(Call{Method: "SendAuth", Event: ev})
}

func (f *Fake) Close(subID string) {
	f.record(Call{Method: "Close", SubID: subID})
}

// Factory makes Fakes and remembers them by url.
type Factory struct {
	mx      sync.Mutex
	clients map[relayurl.T]*Fake
	created int
	// Refuse is copied into every new Fake.
	Refuse bool
}

func NewFactory() *Factory { return &Factory{clients: make(map[relayurl.T]*Fake)} }

func (fa *Factory) New(url relayurl.T, l relay.Listener) relay.Client {
	fa.mx.Lock()
	defer fa.mx.Unlock()
	f := NewFake(url, l)
	f.Refuse = fa.Refuse
	fa.clients[url] = f
	fa.created++
	return f
}

// Get returns the most recent Fake made for url.
func (fa *Factory) Get(url relayurl.T) *Fake {
	fa.mx.Lock()
	defer fa.mx.Unlock()
	return fa.clients[url]
}

// Created counts every client the factory has made.
func (fa *Factory) Created() int {
	fa.mx.Lock()
	defer fa.mx.Unlock()
	return fa.created
}
