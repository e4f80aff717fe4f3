// Package wsclient is a relay.Client over a websocket connection.
package wsclient

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v2"

	"github.com/Hubmakerlabs/poolr/pkg/context"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/envelopes"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filters"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/relay"
	"github.com/Hubmakerlabs/poolr/pkg/relay/connection"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

const (
	PingInterval       = 29 * time.Second
	PingTimeout        = 10 * time.Second
	DefaultDialTimeout = 7 * time.Second
	MinBackoff         = 500 * time.Millisecond
	MaxBackoff         = 5 * time.Minute
	writeQueueSize     = 256
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrQueueFull    = errors.New("write queue full")
)

// session is one live websocket. A new session is made for every
// successful dial.
type session struct {
	conn   *connection.C
	ctx    context.T
	cancel context.F
	queue  chan []byte
}

type T struct {
	url         relayurl.T
	listener    relay.Listener
	clock       clock.Clock
	header      http.Header
	dialTimeout time.Duration

	mx         sync.Mutex
	session    *session
	connecting bool
	gen        uint64
	delay      time.Duration
	retryAt    time.Time

	// subscription id -> whether EOSE arrived on the current connection
	afterEOSE *xsync.MapOf[string, bool]
}

var _ relay.Client = (*T)(nil)

type Option func(*T)

func WithClock(c clock.Clock) Option { return func(r *T) { r.clock = c } }

// WithHeader sets the handshake headers, e.g. Origin.
func WithHeader(h http.Header) Option { return func(r *T) { r.header = h } }

func WithDialTimeout(d time.Duration) Option {
	return func(r *T) { r.dialTimeout = d }
}

func New(url relayurl.T, l relay.Listener, opts ...Option) (r *T) {
	if l == nil {
		l = relay.NopListener{}
	}
	r = &T{
		url:         url,
		listener:    l,
		clock:       clock.New(),
		dialTimeout: DefaultDialTimeout,
		delay:       MinBackoff,
		afterEOSE:   xsync.NewMapOf[bool](),
	}
	for _, o := range opts {
		o(r)
	}
	return
}

// Factory returns a relay.Factory making clients with the given options.
func Factory(opts ...Option) relay.Factory {
	return func(url relayurl.T, l relay.Listener) relay.Client {
		return New(url, l, opts...)
	}
}

func (r *T) URL() relayurl.T { return r.url }
func (r *T) String() string  { return string(r.url) }

func (r *T) IsConnected() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.session != nil
}

func (r *T) NeedsToReconnect() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.session == nil && !r.connecting && !r.clock.Now().Before(r.retryAt)
}

// Backoff returns the delay that will follow the next failed attempt.
func (r *T) Backoff() time.Duration {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.delay
}

func (r *T) ConnectIfDisconnected() {
	if r.NeedsToReconnect() {
		r.Connect()
	}
}

// Connect starts dialing in the background. It does nothing when a
// connection exists or is being made.
func (r *T) Connect() {
	r.mx.Lock()
	if r.session != nil || r.connecting {
		r.mx.Unlock()
		return
	}
	r.connecting = true
	gen := r.gen
	r.mx.Unlock()
	r.listener.OnRelayStateChange(r, relay.Connecting)
	go r.dial(gen)
}

func (r *T) dial(gen uint64) {
	c, cancel := context.Timeout(context.Bg(), r.dialTimeout)
	defer cancel()
	conn, err := connection.New(c, string(r.url), r.header)
	r.mx.Lock()
	if gen != r.gen {
		// disconnected while dialing
		r.mx.Unlock()
		if err == nil {
			chk.D(conn.Close())
		}
		return
	}
	r.connecting = false
	if err != nil {
		r.retryAt = r.clock.Now().Add(r.delay)
		if r.delay *= 2; r.delay > MaxBackoff {
			r.delay = MaxBackoff
		}
		r.mx.Unlock()
		log.D.F("{%s} connection failed: %v", r.url, err)
		r.listener.OnError(r, "", fmt.Errorf("error opening websocket to '%s': %w",
			r.url, err))
		r.listener.OnRelayStateChange(r, relay.Disconnected)
		return
	}
	ctx, stop := context.Cancel(context.Bg())
	s := &session{
		conn:   conn,
		ctx:    ctx,
		cancel: stop,
		queue:  make(chan []byte, writeQueueSize),
	}
	r.session = s
	r.delay = MinBackoff
	r.retryAt = time.Time{}
	r.mx.Unlock()
	r.resetEOSE()
	log.D.F("{%s} connected, compression %v", r.url, conn.Compressed())
	go r.writeLoop(s)
	r.listener.OnRelayStateChange(r, relay.Connected)
	go r.readLoop(s)
}

// writeLoop serialises all writes to the connection and keeps it alive with
// a ping.
func (r *T) writeLoop(s *session) {
	ticker := r.clock.Ticker(PingInterval)
	defer ticker.Stop()
	var err error
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err = s.conn.Ping(PingTimeout); err != nil {
				log.D.F("{%s} error writing ping: %v; closing websocket", r.url, err)
				r.drop(s, err)
				return
			}
		case msg := <-s.queue:
			if err = s.conn.WriteMessage(msg); err != nil {
				r.drop(s, err)
				return
			}
		}
	}
}

func (r *T) readLoop(s *session) {
	buf := new(bytes.Buffer)
	var err error
	for {
		buf.Reset()
		if err = s.conn.ReadMessage(s.ctx, buf); err != nil {
			r.drop(s, err)
			return
		}
		r.dispatch(buf.Bytes())
	}
}

func (r *T) dispatch(message []byte) {
	arrival := timestamp.FromTime(r.clock.Now())
	env, err := envelopes.Parse(message)
	if err != nil {
		log.D.F("{%s} unreadable message: %v", r.url, err)
		r.listener.OnError(r, "", err)
		return
	}
	switch env := env.(type) {
	case *envelopes.Event:
		if env.SubscriptionID == "" {
			return
		}
		done, _ := r.afterEOSE.Load(env.SubscriptionID)
		r.listener.OnEvent(r, env.SubscriptionID, env.Event, arrival, done)
	case *envelopes.EOSE:
		r.afterEOSE.Store(string(*env), true)
		r.listener.OnEOSE(r, string(*env), arrival)
	case *envelopes.OK:
		r.listener.OnSendResponse(r, env.EventID, env.OK, env.Reason)
	case *envelopes.Notice:
		r.listener.OnNotify(r, string(*env))
		r.listener.OnError(r, "", fmt.Errorf("relay notice: %s", string(*env)))
	case *envelopes.Closed:
		r.afterEOSE.Delete(env.SubscriptionID)
		r.listener.OnClosed(r, env.SubscriptionID, env.Reason)
	case *envelopes.Auth:
		r.listener.OnAuth(r, env.Challenge)
	case *envelopes.Count:
		if env.Count != nil {
			r.listener.OnCount(r, env.SubscriptionID, *env.Count)
		}
	default:
		log.D.F("{%s} ignoring %s from relay", r.url, env.Label())
	}
}

// drop ends the session after a transport failure.
func (r *T) drop(s *session, err error) {
	r.mx.Lock()
	if r.session != s {
		r.mx.Unlock()
		return
	}
	r.session = nil
	r.mx.Unlock()
	s.cancel()
	chk.D(s.conn.Close())
	log.D.F("{%s} connection dropped: %v", r.url, err)
	r.listener.OnError(r, "", err)
	r.listener.OnRelayStateChange(r, relay.Disconnected)
}

// Disconnect closes the connection and abandons any dial in progress.
func (r *T) Disconnect() {
	r.mx.Lock()
	r.gen++
	s := r.session
	r.session = nil
	wasConnecting := r.connecting
	r.connecting = false
	r.mx.Unlock()
	if s == nil {
		if wasConnecting {
			r.listener.OnRelayStateChange(r, relay.Disconnected)
		}
		return
	}
	r.listener.OnRelayStateChange(r, relay.Disconnecting)
	s.cancel()
	chk.D(s.conn.Close())
	r.resetEOSE()
	r.listener.OnRelayStateChange(r, relay.Disconnected)
}

func (r *T) resetEOSE() {
	r.afterEOSE.Range(func(k string, _ bool) bool {
		r.afterEOSE.Delete(k)
		return true
	})
}

// write queues msg on the current connection.
func (r *T) write(msg []byte) (err error) {
	r.mx.Lock()
	s := r.session
	r.mx.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	select {
	case s.queue <- msg:
		return
	case <-s.ctx.Done():
		return ErrNotConnected
	default:
		return ErrQueueFull
	}
}

func (r *T) sendEnvelope(env envelopes.E) (ok bool) {
	b, err := env.MarshalJSON()
	if chk.E(err) {
		return
	}
	if err = r.write(b); err != nil {
		log.T.F("{%s} not sent: %v: %s", r.url, err, b)
	} else {
		ok = true
	}
	r.listener.OnSend(r, string(b), ok)
	return
}

// SendRequest sends a REQ, replacing whatever the relay had under subID.
// Without a connection nothing is sent and a connection is started.
func (r *T) SendRequest(subID string, ff filters.T) {
	if !r.IsConnected() {
		r.ConnectIfDisconnected()
		return
	}
	r.afterEOSE.Store(subID, false)
	r.sendEnvelope(&envelopes.Req{SubscriptionID: subID, Filters: ff})
}

func (r *T) SendCount(subID string, ff filters.T) {
	if !r.IsConnected() {
		r.ConnectIfDisconnected()
		return
	}
	r.sendEnvelope(&envelopes.Count{SubscriptionID: subID, Filters: ff})
}

// Send publishes an event. OnBeforeSend is only reported when the event is
// actually handed to a connection.
func (r *T) Send(ev *event.T) {
	if !r.IsConnected() {
		r.ConnectIfDisconnected()
		return
	}
	r.listener.OnBeforeSend(r, ev)
	r.sendEnvelope(&envelopes.Event{Event: ev})
}

func (r *T) SendAuth(ev *event.T) {
	if !r.IsConnected() {
		return
	}
	r.sendEnvelope(&envelopes.Auth{Event: ev})
}

// Close ends a subscription. Without a connection there is nothing to close.
func (r *T) Close(subID string) {
	r.afterEOSE.Delete(subID)
	if !r.IsConnected() {
		return
	}
	c := envelopes.Close(subID)
	r.sendEnvelope(&c)
}
