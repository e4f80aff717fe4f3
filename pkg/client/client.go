// Package client orchestrates a relay pool: it keeps the pool's relay set in
// line with what subscriptions and the outbox need, replays subscriptions
// and unsent events when a relay connects, and fans relay callbacks out to
// listeners.
package client

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v2"

	"github.com/Hubmakerlabs/poolr/pkg/coalesce"
	"github.com/Hubmakerlabs/poolr/pkg/context"
	"github.com/Hubmakerlabs/poolr/pkg/metrics"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filters"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayfilter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/outbox"
	"github.com/Hubmakerlabs/poolr/pkg/pool"
	"github.com/Hubmakerlabs/poolr/pkg/relay"
	"github.com/Hubmakerlabs/poolr/pkg/relay/wsclient"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
	"github.com/Hubmakerlabs/poolr/pkg/subscriptions"
)

var log, chk = slog.New(os.Stderr)

const (
	ReconnectWindow       = 200 * time.Millisecond
	DefaultPublishTimeout = 7 * time.Second
)

// AuthSigner signs an authentication event in place.
type AuthSigner func(ev *event.T) error

type T struct {
	pool    *pool.T
	reqs    *subscriptions.T
	counts  *subscriptions.T
	outbox  *outbox.T
	metrics *metrics.T
	clock   clock.Clock

	factory      relay.Factory
	window       time.Duration
	policy       outbox.Policy
	relaySync    *coalesce.T
	reconnecting *coalesce.T
	reconnectAll atomic.Bool

	active     atomic.Bool
	listenerMx sync.RWMutex
	listeners  []relay.Listener

	sign AuthSigner
	// relay -> last challenge answered on the current connection
	authed  *xsync.MapOf[string, string]
	waiters *xsync.MapOf[string, []*waiter]
	cancels []func()
}

var _ relay.Listener = (*T)(nil)

type Option func(*T)

// WithFactory sets how relay clients are made. The default dials
// websockets.
func WithFactory(f relay.Factory) Option { return func(c *T) { c.factory = f } }

func WithMetrics(m *metrics.T) Option { return func(c *T) { c.metrics = m } }

func WithClock(cl clock.Clock) Option { return func(c *T) { c.clock = cl } }

// WithWindow sets how long relay set changes are collected before the pool
// is updated.
func WithWindow(d time.Duration) Option { return func(c *T) { c.window = d } }

func WithOutboxPolicy(p outbox.Policy) Option { return func(c *T) { c.policy = p } }

// WithAuthHandler answers relay AUTH challenges with events signed by fn.
func WithAuthHandler(fn AuthSigner) Option { return func(c *T) { c.sign = fn } }

// New creates an active client with an empty pool.
func New(opts ...Option) (c *T) {
	c = &T{
		clock:   clock.New(),
		window:  coalesce.DefaultWindow,
		policy:  outbox.DefaultPolicy,
		authed:  xsync.NewMapOf[string](),
		waiters: xsync.NewMapOf[[]*waiter](),
		reqs:    subscriptions.New(),
		counts:  subscriptions.New(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.factory == nil {
		c.factory = wsclient.Factory(wsclient.WithClock(c.clock))
	}
	c.outbox = outbox.New(outbox.WithClock(c.clock), outbox.WithPolicy(c.policy),
		outbox.WithOnDone(c.outboxDone))
	c.pool = pool.New(c, c.factory)
	c.relaySync = coalesce.New(c.window, coalesce.WithClock(c.clock))
	c.reconnecting = coalesce.New(ReconnectWindow, coalesce.WithClock(c.clock))
	c.active.Store(true)
	invalidate := func(relayurl.Set) { c.relaySync.Invalidate(c.syncPool) }
	c.cancels = append(c.cancels,
		c.reqs.OnRelays(invalidate),
		c.counts.OnRelays(invalidate),
		c.outbox.OnRelays(invalidate),
		c.pool.OnStatus(func(s pool.Status) {
			c.metrics.Status(s.Connected.Len(), s.Available.Len())
		}),
	)
	return
}

// DesiredRelays is every relay a subscription, count or unsent event needs.
func (c *T) DesiredRelays() relayurl.Set {
	return relayurl.Union(c.reqs.Relays(), c.counts.Relays(), c.outbox.Relays())
}

func (c *T) syncPool() {
	c.pool.UpdatePool(c.DesiredRelays())
	if c.IsActive() {
		c.pool.ConnectIfDisconnected()
	}
}

func (c *T) Pool() *pool.T { return c.pool }

func (c *T) Outbox() *outbox.T { return c.outbox }

func (c *T) Status() pool.Status { return c.pool.Status() }

func (c *T) OnStatus(fn func(pool.Status)) (cancel func()) { return c.pool.OnStatus(fn) }

func (c *T) IsActive() bool { return c.active.Load() }

// Connect marks the client active and connects every relay in the pool.
func (c *T) Connect() {
	c.active.Store(true)
	c.pool.Connect()
}

// Disconnect marks the client inactive and drops every connection. Requests
// made while inactive are remembered and sent on the next Connect.
func (c *T) Disconnect() {
	c.active.Store(false)
	c.pool.Disconnect()
}

// Reconnect schedules, after a short delay, either a reconnect of the
// relays that need one or, when onlyIfChanged is false, of every relay.
func (c *T) Reconnect(onlyIfChanged bool) {
	if !onlyIfChanged {
		c.reconnectAll.Store(true)
	}
	c.reconnecting.Invalidate(func() {
		if !c.IsActive() {
			return
		}
		if c.reconnectAll.Swap(false) {
			c.pool.Disconnect()
			c.pool.Connect()
			return
		}
		c.pool.ReconnectIfNeedsTo()
	})
}

// KeepAlive retries relays that need it every interval until the context
// ends.
func (c *T) KeepAlive(cx context.T, interval time.Duration) {
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-cx.Done():
			return
		case <-ticker.C:
			if c.IsActive() {
				c.pool.ReconnectIfNeedsTo()
			}
		}
	}
}

// Shutdown stops pending work and disconnects everything.
func (c *T) Shutdown() {
	c.relaySync.Cancel()
	c.reconnecting.Cancel()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.Disconnect()
}

// OpenReqSubscription makes list the filters of subID, replacing any it had.
// Relays whose filters changed get a new REQ; relays left without filters
// get a CLOSE.
func (c *T) OpenReqSubscription(subID string, list []relayfilter.T) {
	old := c.reqs.Filters(subID)
	affected := c.reqs.AddOrUpdate(subID, list)
	if !c.IsActive() {
		return
	}
	for _, rl := range affected.Slice() {
		ff := c.reqs.FiltersFor(subID, rl)
		if len(ff) == 0 {
			c.pool.CloseOn(rl, subID)
			continue
		}
		if filters.NeedsToResend(old[rl], ff) {
			c.pool.GetOrCreateRelay(rl).SendRequest(subID, ff)
		}
	}
	c.Reconnect(true)
}

// QueryCount is OpenReqSubscription for COUNT.
func (c *T) QueryCount(subID string, list []relayfilter.T) {
	old := c.counts.Filters(subID)
	affected := c.counts.AddOrUpdate(subID, list)
	if !c.IsActive() {
		return
	}
	for _, rl := range affected.Slice() {
		ff := c.counts.FiltersFor(subID, rl)
		if len(ff) == 0 {
			c.pool.CloseOn(rl, subID)
			continue
		}
		if filters.NeedsToResend(old[rl], ff) {
			c.pool.GetOrCreateRelay(rl).SendCount(subID, ff)
		}
	}
	c.Reconnect(true)
}

// Close ends subID everywhere it was open.
func (c *T) Close(subID string) {
	affected := c.reqs.Remove(subID)
	affected.AddAll(c.counts.Remove(subID))
	if !c.IsActive() {
		return
	}
	for _, rl := range affected.Slice() {
		c.pool.CloseOn(rl, subID)
	}
}

func (c *T) IsSubscriptionActive(subID string) bool {
	return c.reqs.IsActive(subID) || c.counts.IsActive(subID)
}

func (c *T) ReqFilters(subID string) map[relayurl.T]filters.T { return c.reqs.Filters(subID) }

func (c *T) CountFilters(subID string) map[relayurl.T]filters.T {
	return c.counts.Filters(subID)
}

func (c *T) ActiveRequests(rl relayurl.T) map[string]filters.T {
	return c.reqs.ActiveFiltersFor(rl)
}

func (c *T) ActiveCounts(rl relayurl.T) map[string]filters.T {
	return c.counts.ActiveFiltersFor(rl)
}

func (c *T) ActiveOutbox(rl relayurl.T) []string { return c.outbox.ActiveOutboxFor(rl) }

// Send publishes ev to relays. Delivery is tracked in the outbox and retried
// a bounded number of times per relay.
func (c *T) Send(ev *event.T, relays relayurl.Set) {
	added := c.outbox.MarkAsSending(ev, relays)
	c.metrics.Pending(c.outbox.Pending())
	if !c.IsActive() {
		return
	}
	c.pool.Send(ev, added)
	c.Reconnect(true)
}

// SendAndWaitForResponse publishes ev and waits until every relay accepted
// it or gave up, or the context ends. Without a deadline on the context a
// default timeout applies. It reports whether any relay accepted the event.
func (c *T) SendAndWaitForResponse(cx context.T, ev *event.T,
	relays relayurl.Set) (accepted bool, err error) {

	if _, ok := cx.Deadline(); !ok {
		var cancel context.F
		cx, cancel = context.Timeout(cx, DefaultPublishTimeout)
		defer cancel()
	}
	w := &waiter{done: make(chan struct{})}
	c.addWaiter(ev.ID, w)
	defer c.removeWaiter(ev.ID, w)
	c.Send(ev, relays)
	select {
	case <-w.done:
		return w.accepted.Load(), nil
	case <-cx.Done():
		return c.outbox.Accepted(ev.ID), cx.Err()
	}
}

type waiter struct {
	done     chan struct{}
	once     sync.Once
	accepted atomic.Bool
}

func (w *waiter) finish(accepted bool) {
	w.once.Do(func() {
		w.accepted.Store(accepted)
		close(w.done)
	})
}

// addWaiter and removeWaiter keep every caller waiting on the same event id.
func (c *T) addWaiter(id string, w *waiter) {
	c.waiters.Compute(id, func(ws []*waiter, _ bool) ([]*waiter, bool) {
		return append(ws[:len(ws):len(ws)], w), false
	})
}

func (c *T) removeWaiter(id string, w *waiter) {
	c.waiters.Compute(id, func(ws []*waiter, _ bool) ([]*waiter, bool) {
		out := make([]*waiter, 0, len(ws))
		for _, x := range ws {
			if x != w {
				out = append(out, x)
			}
		}
		return out, len(out) == 0
	})
}

func (c *T) outboxDone(o *outbox.Outbox) {
	c.metrics.Pending(c.outbox.Pending())
	ws, _ := c.waiters.Load(o.Event.ID)
	for _, w := range ws {
		w.finish(o.Accepted())
	}
}
