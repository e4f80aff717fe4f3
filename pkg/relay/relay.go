// Package relay defines what the pool needs from a single relay connection
// and the callbacks a connection reports through.
package relay

import (
	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filters"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
)

type State int

const (
	Connecting State = iota
	Connected
	Disconnecting
	Disconnected
)

var stateNames = map[State]string{
	Connecting:    "connecting",
	Connected:     "connected",
	Disconnecting: "disconnecting",
	Disconnected:  "disconnected",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Client is one relay connection. None of the methods block on the network:
// outcomes are reported to the Listener the client was created with.
type Client interface {
	URL() relayurl.T
	Connect()
	Disconnect()
	// ConnectIfDisconnected starts a connection only when there is none,
	// honouring any reconnect delay the client keeps.
	ConnectIfDisconnected()
	IsConnected() bool
	// NeedsToReconnect reports whether the client has no usable connection
	// and is ready to try again.
	NeedsToReconnect() bool
	SendRequest(subID string, ff filters.T)
	SendCount(subID string, ff filters.T)
	Send(ev *event.T)
	SendAuth(ev *event.T)
	Close(subID string)
}

// Listener receives everything a Client observes. arrival is the local
// receive time of the message.
type Listener interface {
	OnEvent(r Client, subID string, ev *event.T, arrival timestamp.T, afterEOSE bool)
	OnEOSE(r Client, subID string, arrival timestamp.T)
	OnError(r Client, subID string, err error)
	OnRelayStateChange(r Client, state State)
	OnSendResponse(r Client, eventID string, success bool, message string)
	OnAuth(r Client, challenge string)
	OnNotify(r Client, description string)
	OnClosed(r Client, subID string, message string)
	OnSend(r Client, msg string, success bool)
	OnBeforeSend(r Client, ev *event.T)
	OnCount(r Client, subID string, count int64)
}

// Factory creates the client for a url, reporting to l.
type Factory func(url relayurl.T, l Listener) Client

// NopListener ignores every callback. Embed it to implement only some.
type NopListener struct{}

func (NopListener) OnEvent(Client, string, *event.T, timestamp.T, bool) {}
func (NopListener) OnEOSE(Client, string, timestamp.T)                  {}
func (NopListener) OnError(Client, string, error)                       {}
func (NopListener) OnRelayStateChange(Client, State)                    {}
func (NopListener) OnSendResponse(Client, string, bool, string)         {}
func (NopListener) OnAuth(Client, string)                               {}
func (NopListener) OnNotify(Client, string)                             {}
func (NopListener) OnClosed(Client, string, string)                     {}
func (NopListener) OnSend(Client, string, bool)                         {}
func (NopListener) OnBeforeSend(Client, *event.T)                       {}
func (NopListener) OnCount(Client, string, int64)                       {}

var _ Listener = NopListener{}
