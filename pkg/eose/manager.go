// Package eose turns sets of application keys into relay subscriptions and
// remembers, per relay, how far each subscription has already been served so
// that a new REQ only asks for what is newer.
//
// A Manager does the bookkeeping; a Strategy decides which keys share a
// subscription and whether EOSE marks are kept at all.
package eose

import (
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Hubmakerlabs/poolr/pkg/coalesce"
	"github.com/Hubmakerlabs/poolr/pkg/eose/store"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayfilter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

// Strategy maps keys onto subscriptions.
type Strategy[K any] interface {
	// Identity is the key's identity; keys with the same identity count once.
	Identity(key K) string
	// Group names the subscription the key belongs to, which is also the
	// scope of its EOSE marks.
	Group(key K) string
	// Cached reports whether EOSE marks are kept and used as since.
	Cached() bool
}

// Builder makes the relay filters for the distinct keys of one group. marks
// is nil for strategies that do not cache. A nil or empty result closes the
// subscription on every relay.
type Builder[K any] func(keys []K, marks *Marks) []relayfilter.T

// Option configures a Manager.
type Option func(o *options)

type options struct {
	clock   clock.Clock
	window  time.Duration
	store   store.I
	name    string
	onEvent func(ev *event.T, rl relayurl.T)
	onEOSE  func(group string, rl relayurl.T)
}

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithWindow sets how long InvalidateFilters waits for more changes.
func WithWindow(d time.Duration) Option { return func(o *options) { o.window = d } }

// WithStore persists the marks under name, which must be unique among the
// managers sharing the store.
func WithStore(s store.I, name string) Option {
	return func(o *options) { o.store, o.name = s, name }
}

// WithOnEvent receives every event of every subscription of the manager.
func WithOnEvent(fn func(ev *event.T, rl relayurl.T)) Option {
	return func(o *options) { o.onEvent = fn }
}

// WithOnEOSE is told when a relay finishes sending the stored events of a
// group. Strategies that do not cache marks report it too.
func WithOnEOSE(fn func(group string, rl relayurl.T)) Option {
	return func(o *options) { o.onEOSE = fn }
}

// Manager keeps one subscription per group of the current keys.
type Manager[K any] struct {
	options
	strategy  Strategy[K]
	build     Builder[K]
	client    Client
	ctl       *Controller
	coalescer *coalesce.T
	marks     *Keyed[string]
	keys      *KeyRegistry[K]
	// mx serializes UpdateSubscriptions and Destroy.
	mx        sync.Mutex
	subs      map[string]*Subscription
	destroyed bool
}

// New makes a manager for the strategy on the client.
func New[K any](c Client, s Strategy[K], build Builder[K], opts ...Option) (m *Manager[K]) {
	m = &Manager[K]{
		options:  options{clock: clock.New(), window: coalesce.DefaultWindow},
		strategy: s,
		build:    build,
		client:   c,
		subs:     make(map[string]*Subscription),
	}
	for _, o := range opts {
		o(&m.options)
	}
	m.ctl = NewController(c)
	m.coalescer = coalesce.New(m.window, coalesce.WithClock(m.clock))
	m.marks = NewKeyed[string](m.restore)
	m.keys = NewKeyRegistry[K](m.InvalidateFilters)
	return
}

func (m *Manager[K]) scope(group string) string { return m.name + "/" + group }

func (m *Manager[K]) restore(group string, marks *Marks) {
	if m.store == nil {
		return
	}
	saved, err := m.store.Load(m.scope(group))
	if chk.E(err) {
		return
	}
	marks.Merge(saved)
}

func (m *Manager[K]) eoseFor(group string) EOSEFunc {
	cached := m.strategy.Cached()
	if !cached && m.onEOSE == nil {
		return nil
	}
	return func(rl relayurl.T, at timestamp.T, live bool) {
		if m.onEOSE != nil && !live {
			m.onEOSE(group, rl)
		}
		if !cached || !m.marks.Get(group).Advance(rl, at) {
			return
		}
		if m.store != nil {
			chk.E(m.store.Save(m.scope(group), rl, at))
		}
	}
}

func (m *Manager[K]) eventFunc() EventFunc {
	if m.onEvent == nil {
		return nil
	}
	return func(ev *event.T, rl relayurl.T, _ timestamp.T, _ bool) { m.onEvent(ev, rl) }
}

// Keys is the registry whose keys the manager subscribes to.
func (m *Manager[K]) Keys() *KeyRegistry[K] { return m.keys }

// Subscribe adds a key for as long as the caller needs it.
func (m *Manager[K]) Subscribe(key K) (cancel func()) { return m.keys.Add(key) }

// InvalidateFilters schedules a rebuild of all subscriptions, collapsing
// bursts of calls into one.
func (m *Manager[K]) InvalidateFilters() { m.coalescer.Invalidate(m.ForceInvalidate) }

// ForceInvalidate rebuilds all subscriptions now and asks the client to
// bring relay connections in line.
func (m *Manager[K]) ForceInvalidate() {
	if !m.UpdateSubscriptions(m.keys.All()) {
		return
	}
	m.client.Reconnect(true)
}

// UpdateSubscriptions makes the subscriptions match keys: one per group,
// each with the filters built from the group's distinct keys, and none for
// groups that have no keys left. It does nothing and returns false once
// the manager is destroyed.
func (m *Manager[K]) UpdateSubscriptions(keys []K) (ok bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.destroyed {
		return false
	}
	var order []string
	groups := make(map[string][]K)
	seen := make(map[string]struct{})
	for _, k := range keys {
		id := m.strategy.Identity(k)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		g := m.strategy.Group(k)
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], k)
	}
	for _, g := range order {
		sub, ok := m.subs[g]
		if !ok {
			sub = m.ctl.Open(m.eventFunc(), m.eoseFor(g))
			m.subs[g] = sub
			log.T.F("group %q opened as %s", g, sub.ID)
		}
		var marks *Marks
		if m.strategy.Cached() {
			marks = m.marks.Get(g)
		}
		m.ctl.Update(sub, m.build(groups[g], marks))
	}
	for g, sub := range m.subs {
		if _, ok := groups[g]; !ok {
			log.T.F("group %q gone, closing %s", g, sub.ID)
			m.ctl.End(sub)
			delete(m.subs, g)
		}
	}
	return true
}

// Since returns the EOSE marks that apply to key, nil when there are none
// or the strategy does not cache.
func (m *Manager[K]) Since(key K) map[relayurl.T]timestamp.T {
	if !m.strategy.Cached() {
		return nil
	}
	if marks, ok := m.marks.Peek(m.strategy.Group(key)); ok {
		return marks.Snapshot()
	}
	return nil
}

// SubscriptionIDs maps each open group to its subscription id.
func (m *Manager[K]) SubscriptionIDs() map[string]string {
	m.mx.Lock()
	defer m.mx.Unlock()
	ids := make(map[string]string, len(m.subs))
	for g, s := range m.subs {
		ids[g] = s.ID
	}
	return ids
}

// Destroy cancels pending work and closes every subscription of the
// manager.
func (m *Manager[K]) Destroy() {
	m.coalescer.Cancel()
	m.keys.Close()
	m.mx.Lock()
	defer m.mx.Unlock()
	m.destroyed = true
	m.ctl.Destroy()
	m.subs = make(map[string]*Subscription)
}
