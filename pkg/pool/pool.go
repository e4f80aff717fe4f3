// Package pool owns a set of relay clients, fans requests out to them and
// tracks which of them are connected.
package pool

import (
	"os"
	"sync"

	"github.com/fiatjaf/generic-ristretto/z"

	"github.com/Hubmakerlabs/poolr/pkg/flow"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filters"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/relay"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

const MAX_LOCKS = 50

// Status is a snapshot of the pool. Available is every relay in the pool,
// Connected the subset with a live connection.
type Status struct {
	Connected relayurl.Set
	Available relayurl.Set
}

func (s Status) IsConnected() bool { return s.Connected.Len() > 0 }

func (s Status) Equal(o Status) bool {
	return s.Connected.Equal(o.Connected) && s.Available.Equal(o.Available)
}

type T struct {
	listener relay.Listener
	factory  relay.Factory

	// wmx serializes changes to the relay set; mx guards the map itself.
	wmx    sync.Mutex
	mx     sync.RWMutex
	relays map[relayurl.T]relay.Client
	locks  [MAX_LOCKS]sync.Mutex
	status *flow.State[Status]
}

var _ relay.Listener = (*T)(nil)

// New creates an empty pool. Clients are made with factory and report to
// the pool, which forwards everything to l.
func New(l relay.Listener, factory relay.Factory) (p *T) {
	if l == nil {
		l = relay.NopListener{}
	}
	p = &T{
		listener: l,
		factory:  factory,
		relays:   make(map[relayurl.T]relay.Client),
		status: flow.New(Status{relayurl.NewSet(), relayurl.NewSet()},
			Status.Equal),
	}
	return
}

// namedLock serialises client creation per url without holding the map
// lock, so a factory may call back into the pool.
func (p *T) namedLock(name string) (unlock func()) {
	idx := z.MemHashString(name) % MAX_LOCKS
	p.locks[idx].Lock()
	return p.locks[idx].Unlock
}

func (p *T) snapshot() (clients []relay.Client) {
	p.mx.RLock()
	defer p.mx.RUnlock()
	clients = make([]relay.Client, 0, len(p.relays))
	for _, c := range p.relays {
		clients = append(clients, c)
	}
	return
}

func (p *T) GetRelay(url relayurl.T) (c relay.Client, ok bool) {
	p.mx.RLock()
	defer p.mx.RUnlock()
	c, ok = p.relays[url]
	return
}

func (p *T) getOrCreate(url relayurl.T) (c relay.Client, created bool) {
	var ok bool
	if c, ok = p.GetRelay(url); ok {
		return
	}
	defer p.namedLock(string(url))()
	if c, ok = p.GetRelay(url); ok {
		return
	}
	c = p.factory(url, p)
	p.mx.Lock()
	p.relays[url] = c
	p.mx.Unlock()
	log.T.F("added relay %s to pool", url)
	return c, true
}

// GetOrCreateRelay returns the client for url, adding one if needed.
func (p *T) GetOrCreateRelay(url relayurl.T) relay.Client {
	if c, ok := p.GetRelay(url); ok {
		return c
	}
	p.wmx.Lock()
	defer p.wmx.Unlock()
	c, created := p.getOrCreate(url)
	if created {
		p.updateStatus()
	}
	return c
}

func (p *T) AddRelay(url relayurl.T) relay.Client { return p.GetOrCreateRelay(url) }

func (p *T) AddAllRelays(urls ...relayurl.T) {
	p.wmx.Lock()
	defer p.wmx.Unlock()
	var atLeastOne bool
	for _, u := range urls {
		if _, created := p.getOrCreate(u); created {
			atLeastOne = true
		}
	}
	if atLeastOne {
		p.updateStatus()
	}
}

// removeRelay disconnects the client and then drops it from the pool.
func (p *T) removeRelay(url relayurl.T) (removed bool) {
	c, ok := p.GetRelay(url)
	if !ok {
		return
	}
	c.Disconnect()
	p.mx.Lock()
	if cur, ok := p.relays[url]; ok && cur == c {
		delete(p.relays, url)
		removed = true
	}
	p.mx.Unlock()
	if removed {
		log.T.F("removed relay %s from pool", url)
	}
	return
}

func (p *T) RemoveRelay(url relayurl.T) {
	p.wmx.Lock()
	defer p.wmx.Unlock()
	if p.removeRelay(url) {
		p.updateStatus()
	}
}

func (p *T) RemoveAllRelays() {
	p.wmx.Lock()
	defer p.wmx.Unlock()
	var atLeastOne bool
	for _, u := range p.AvailableRelays().Slice() {
		if p.removeRelay(u) {
			atLeastOne = true
		}
	}
	if atLeastOne {
		p.updateStatus()
	}
}

// UpdatePool makes the pool hold exactly the given relays. New clients are
// not connected here. Relays no longer wanted are disconnected and removed.
// At most one status update results.
func (p *T) UpdatePool(relays relayurl.Set) {
	p.wmx.Lock()
	defer p.wmx.Unlock()
	toRemove := p.AvailableRelays().Minus(relays)
	var atLeastOne bool
	for _, u := range relays.Slice() {
		if _, created := p.getOrCreate(u); created {
			atLeastOne = true
		}
	}
	for _, u := range toRemove.Slice() {
		if p.removeRelay(u) {
			atLeastOne = true
		}
	}
	if atLeastOne {
		p.updateStatus()
	}
}

func (p *T) Connect() {
	for _, c := range p.snapshot() {
		c.Connect()
	}
}

func (p *T) Disconnect() {
	for _, c := range p.snapshot() {
		c.Disconnect()
	}
}

func (p *T) ConnectIfDisconnected() {
	for _, c := range p.snapshot() {
		c.ConnectIfDisconnected()
	}
}

func (p *T) ConnectIfDisconnectedTo(url relayurl.T) {
	if c, ok := p.GetRelay(url); ok {
		c.ConnectIfDisconnected()
	}
}

// ReconnectIfNeedsTo restarts every client that reports it needs to.
func (p *T) ReconnectIfNeedsTo() {
	for _, c := range p.snapshot() {
		if c.NeedsToReconnect() {
			c.Disconnect()
			c.Connect()
		}
	}
}

// SendRequest sends each relay in the pool the filters meant for it. Relays
// without filters, and filters that constrain nothing, are skipped.
func (p *T) SendRequest(subID string, byRelay map[relayurl.T]filters.T) {
	for _, c := range p.snapshot() {
		if ff := byRelay[c.URL()].Filled(); len(ff) > 0 {
			c.SendRequest(subID, ff)
		}
	}
}

func (p *T) SendRequestTo(url relayurl.T, subID string, ff filters.T) {
	if ff = ff.Filled(); len(ff) == 0 {
		return
	}
	if c, ok := p.GetRelay(url); ok {
		c.SendRequest(subID, ff)
	}
}

func (p *T) SendCount(subID string, byRelay map[relayurl.T]filters.T) {
	for _, c := range p.snapshot() {
		if ff := byRelay[c.URL()].Filled(); len(ff) > 0 {
			c.SendCount(subID, ff)
		}
	}
}

func (p *T) SendCountTo(url relayurl.T, subID string, ff filters.T) {
	if ff = ff.Filled(); len(ff) == 0 {
		return
	}
	if c, ok := p.GetRelay(url); ok {
		c.SendCount(subID, ff)
	}
}

// Close ends the subscription on every relay.
func (p *T) Close(subID string) {
	for _, c := range p.snapshot() {
		c.Close(subID)
	}
}

func (p *T) CloseOn(url relayurl.T, subID string) {
	if c, ok := p.GetRelay(url); ok {
		c.Close(subID)
	}
}

// Send publishes ev to every relay in relays, adding relays to the pool as
// needed.
func (p *T) Send(ev *event.T, relays relayurl.Set) {
	for _, u := range relays.Slice() {
		p.GetOrCreateRelay(u).Send(ev)
	}
}

// SendAuth answers an authentication challenge on one relay.
func (p *T) SendAuth(url relayurl.T, ev *event.T) {
	if c, ok := p.GetRelay(url); ok {
		c.SendAuth(ev)
	}
}

func (p *T) AvailableRelays() (s relayurl.Set) {
	p.mx.RLock()
	defer p.mx.RUnlock()
	s = make(relayurl.Set, len(p.relays))
	for u := range p.relays {
		s.Add(u)
	}
	return
}

func (p *T) ConnectedRelays() (s relayurl.Set) {
	s = relayurl.NewSet()
	for _, c := range p.snapshot() {
		if c.IsConnected() {
			s.Add(c.URL())
		}
	}
	return
}

func (p *T) Size() int {
	p.mx.RLock()
	defer p.mx.RUnlock()
	return len(p.relays)
}

// Status is the last emitted snapshot.
func (p *T) Status() Status { return p.status.Value() }

// OnStatus registers fn for every change of Status.
func (p *T) OnStatus(fn func(Status)) (cancel func()) { return p.status.Subscribe(fn) }

// updateStatus rescans the pool and emits only if something changed.
func (p *T) updateStatus() {
	p.status.Emit(Status{Connected: p.ConnectedRelays(), Available: p.AvailableRelays()})
}

func (p *T) OnEvent(r relay.Client, subID string, ev *event.T, arrival timestamp.T, afterEOSE bool) {
	p.listener.OnEvent(r, subID, ev, arrival, afterEOSE)
}

func (p *T) OnEOSE(r relay.Client, subID string, arrival timestamp.T) {
	p.listener.OnEOSE(r, subID, arrival)
}

func (p *T) OnError(r relay.Client, subID string, err error) {
	p.listener.OnError(r, subID, err)
	p.updateStatus()
}

func (p *T) OnRelayStateChange(r relay.Client, state relay.State) {
	p.listener.OnRelayStateChange(r, state)
	p.updateStatus()
}

func (p *T) OnSendResponse(r relay.Client, eventID string, success bool, message string) {
	p.listener.OnSendResponse(r, eventID, success, message)
}

func (p *T) OnAuth(r relay.Client, challenge string) { p.listener.OnAuth(r, challenge) }

func (p *T) OnNotify(r relay.Client, description string) {
	p.listener.OnNotify(r, description)
}

func (p *T) OnClosed(r relay.Client, subID string, message string) {
	p.listener.OnClosed(r, subID, message)
}

func (p *T) OnSend(r relay.Client, msg string, success bool) {
	p.listener.OnSend(r, msg, success)
}

func (p *T) OnBeforeSend(r relay.Client, ev *event.T) { p.listener.OnBeforeSend(r, ev) }

func (p *T) OnCount(r relay.Client, subID string, count int64) {
	p.listener.OnCount(r, subID, count)
}
