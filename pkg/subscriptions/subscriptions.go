// Package subscriptions keeps the filters every subscription id currently
// wants, per relay.
package subscriptions

import (
	"sort"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/Hubmakerlabs/poolr/pkg/flow"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filters"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayfilter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
)

// T is a subscription repository. Mutations are serialised; readers see a
// snapshot taken under the same lock.
type T struct {
	wmx    sync.Mutex
	mx     sync.RWMutex
	subs   map[string]map[relayurl.T]filters.T
	relays *flow.State[relayurl.Set]
}

func New() *T {
	return &T{
		subs:   make(map[string]map[relayurl.T]filters.T),
		relays: flow.New(relayurl.NewSet(), relayurl.Set.Equal),
	}
}

// AddOrUpdate replaces whatever subID had with list. Empty filters are
// dropped. The result is every relay whose filters for subID may have
// changed, old and new.
func (r *T) AddOrUpdate(subID string, list []relayfilter.T) (affected relayurl.Set) {
	grouped := relayfilter.GroupByRelay(list)
	r.wmx.Lock()
	defer r.wmx.Unlock()
	r.mx.Lock()
	old := r.subs[subID]
	r.subs[subID] = grouped
	union := r.union()
	r.mx.Unlock()
	affected = relayurl.NewSet(maps.Keys(old)...)
	affected.AddAll(relayurl.NewSet(maps.Keys(grouped)...))
	r.relays.Emit(union)
	return
}

// Remove forgets subID and returns the relays it was using.
func (r *T) Remove(subID string) (affected relayurl.Set) {
	r.wmx.Lock()
	defer r.wmx.Unlock()
	r.mx.Lock()
	old, ok := r.subs[subID]
	delete(r.subs, subID)
	union := r.union()
	r.mx.Unlock()
	affected = relayurl.NewSet(maps.Keys(old)...)
	if ok {
		r.relays.Emit(union)
	}
	return
}

// union must be called with the lock held.
func (r *T) union() (u relayurl.Set) {
	u = relayurl.NewSet()
	for _, byRelay := range r.subs {
		for rl := range byRelay {
			u.Add(rl)
		}
	}
	return
}

// ForEachSub calls fn, in subscription id order, for every subscription
// that has filters for the relay.
func (r *T) ForEachSub(rl relayurl.T, fn func(subID string, ff filters.T)) {
	active := r.ActiveFiltersFor(rl)
	ids := maps.Keys(active)
	sort.Strings(ids)
	for _, id := range ids {
		fn(id, active[id])
	}
}

func (r *T) IsActive(subID string) bool {
	r.mx.RLock()
	defer r.mx.RUnlock()
	_, ok := r.subs[subID]
	return ok
}

// Filters returns the per relay filters of subID, or nil if it is not
// active.
func (r *T) Filters(subID string) (m map[relayurl.T]filters.T) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	byRelay, ok := r.subs[subID]
	if !ok {
		return
	}
	return maps.Clone(byRelay)
}

// FiltersFor returns the filters subID has on one relay.
func (r *T) FiltersFor(subID string, rl relayurl.T) filters.T {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return r.subs[subID][rl]
}

// ActiveFiltersFor returns, for one relay, every subscription id with
// filters there.
func (r *T) ActiveFiltersFor(rl relayurl.T) (m map[string]filters.T) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	m = make(map[string]filters.T)
	for id, byRelay := range r.subs {
		if ff := byRelay[rl]; len(ff) > 0 {
			m[id] = ff
		}
	}
	return
}

func (r *T) SubIDs() (ids []string) {
	r.mx.RLock()
	ids = maps.Keys(r.subs)
	r.mx.RUnlock()
	sort.Strings(ids)
	return
}

// Relays is the set of relays any subscription has filters for.
func (r *T) Relays() relayurl.Set { return r.relays.Value() }

// OnRelays registers fn for every change of Relays.
func (r *T) OnRelays(fn func(relayurl.Set)) (cancel func()) {
	return r.relays.Subscribe(fn)
}
