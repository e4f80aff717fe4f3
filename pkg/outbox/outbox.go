// Package outbox tracks delivery of published events to their relays,
// retrying a bounded number of times per relay.
package outbox

import (
	"os"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/exp/maps"

	"github.com/Hubmakerlabs/poolr/pkg/flow"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

// Outbox is one event on its way to a set of relays.
type Outbox struct {
	Event *event.T
	Tries map[relayurl.T]*Tries
}

func (o *Outbox) IsDoneFor(p Policy, rl relayurl.T) bool { return p.Done(o.Tries[rl]) }

// IsDone is true when every target relay is done.
func (o *Outbox) IsDone(p Policy) bool {
	for rl := range o.Tries {
		if !o.IsDoneFor(p, rl) {
			return false
		}
	}
	return true
}

// Accepted reports whether any relay took the event.
func (o *Outbox) Accepted() bool {
	for _, t := range o.Tries {
		if t.Successes() > 0 {
			return true
		}
	}
	return false
}

func (o *Outbox) pending(p Policy) (s relayurl.Set) {
	s = relayurl.NewSet()
	for rl := range o.Tries {
		if !o.IsDoneFor(p, rl) {
			s.Add(rl)
		}
	}
	return
}

// T is the outbox repository. Finished entries are dropped, so an event id
// that is not tracked counts as done.
type T struct {
	wmx      sync.Mutex
	mx       sync.RWMutex
	policy   Policy
	clock    clock.Clock
	outboxes map[string]*Outbox
	relays   *flow.State[relayurl.Set]
	done     func(o *Outbox)
}

type Option func(*T)

func WithPolicy(p Policy) Option { return func(t *T) { t.policy = p } }

func WithClock(c clock.Clock) Option { return func(t *T) { t.clock = c } }

// WithOnDone registers fn to see every entry as it is dropped.
func WithOnDone(fn func(o *Outbox)) Option { return func(t *T) { t.done = fn } }

func New(opts ...Option) (t *T) {
	t = &T{
		policy:   DefaultPolicy,
		clock:    clock.New(),
		outboxes: make(map[string]*Outbox),
		relays:   flow.New(relayurl.NewSet(), relayurl.Set.Equal),
	}
	for _, o := range opts {
		o(t)
	}
	return
}

func (t *T) Policy() Policy { return t.policy }

// MarkAsSending starts tracking ev for relays, or widens the relay set of
// an event already tracked. It returns the relays that were not targets
// before.
func (t *T) MarkAsSending(ev *event.T, relays relayurl.Set) (added relayurl.Set) {
	t.wmx.Lock()
	defer t.wmx.Unlock()
	added = relayurl.NewSet()
	t.mx.Lock()
	o, ok := t.outboxes[ev.ID]
	if !ok {
		o = &Outbox{Event: ev, Tries: make(map[relayurl.T]*Tries)}
		t.outboxes[ev.ID] = o
	}
	for rl := range relays {
		if _, ok := o.Tries[rl]; !ok {
			o.Tries[rl] = &Tries{}
			added.Add(rl)
		}
	}
	t.mx.Unlock()
	t.clear()
	return
}

// NewTry records that the event was handed to the relay. An entry that
// becomes done through it is dropped.
func (t *T) NewTry(id string, rl relayurl.T) {
	t.record(id, rl, func(tr *Tries) {
		tr.Attempts = append(tr.Attempts, t.clock.Now())
	})
}

// NewResponse records an OK from the relay and then drops finished entries.
func (t *T) NewResponse(id string, rl relayurl.T, success bool, message string) {
	t.record(id, rl, func(tr *Tries) {
		tr.Responses = append(tr.Responses,
			Response{Success: success, Message: message, At: t.clock.Now()})
	})
}

func (t *T) record(id string, rl relayurl.T, fn func(tr *Tries)) {
	t.wmx.Lock()
	defer t.wmx.Unlock()
	t.mx.Lock()
	o, ok := t.outboxes[id]
	var tr *Tries
	if ok {
		tr = o.Tries[rl]
	}
	if tr == nil {
		t.mx.Unlock()
		return
	}
	fn(tr)
	t.mx.Unlock()
	t.clear()
}

// Clear drops every entry all of whose relays are done.
func (t *T) Clear() {
	t.wmx.Lock()
	defer t.wmx.Unlock()
	t.clear()
}

func (t *T) clear() {
	var finished []*Outbox
	t.mx.Lock()
	for id, o := range t.outboxes {
		if o.IsDone(t.policy) {
			delete(t.outboxes, id)
			finished = append(finished, o)
		}
	}
	union := t.union()
	t.mx.Unlock()
	t.relays.Emit(union)
	for _, o := range finished {
		log.T.F("outbox done with %s, accepted %v", o.Event.ID, o.Accepted())
		if t.done != nil {
			t.done(o)
		}
	}
}

// union of relays still owed some event. Called with the lock held.
func (t *T) union() (u relayurl.Set) {
	u = relayurl.NewSet()
	for _, o := range t.outboxes {
		u.AddAll(o.pending(t.policy))
	}
	return
}

// ForEachUnsentEvent calls fn with every tracked event the relay still has
// to take.
func (t *T) ForEachUnsentEvent(rl relayurl.T, fn func(ev *event.T)) {
	for _, ev := range t.unsent(rl) {
		fn(ev)
	}
}

func (t *T) unsent(rl relayurl.T) (evs []*event.T) {
	t.mx.RLock()
	defer t.mx.RUnlock()
	for _, o := range t.outboxes {
		if _, ok := o.Tries[rl]; ok && !o.IsDoneFor(t.policy, rl) {
			evs = append(evs, o.Event)
		}
	}
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].CreatedAt != evs[j].CreatedAt {
			return evs[i].CreatedAt < evs[j].CreatedAt
		}
		return evs[i].ID < evs[j].ID
	})
	return
}

// ActiveOutboxFor returns the ids of the events the relay still has to take.
func (t *T) ActiveOutboxFor(rl relayurl.T) (ids []string) {
	for _, ev := range t.unsent(rl) {
		ids = append(ids, ev.ID)
	}
	return
}

func (t *T) IsTracked(id string) bool {
	t.mx.RLock()
	defer t.mx.RUnlock()
	_, ok := t.outboxes[id]
	return ok
}

// IsDone is true when the event is no longer being delivered anywhere.
func (t *T) IsDone(id string) bool {
	t.mx.RLock()
	defer t.mx.RUnlock()
	o, ok := t.outboxes[id]
	return !ok || o.IsDone(t.policy)
}

// IsDoneFor is true when the relay is done with the event, or the event is
// not tracked.
func (t *T) IsDoneFor(id string, rl relayurl.T) bool {
	t.mx.RLock()
	defer t.mx.RUnlock()
	o, ok := t.outboxes[id]
	return !ok || o.IsDoneFor(t.policy, rl)
}

// Event returns the tracked event with the given id.
func (t *T) Event(id string) (ev *event.T, ok bool) {
	t.mx.RLock()
	defer t.mx.RUnlock()
	var o *Outbox
	if o, ok = t.outboxes[id]; ok {
		ev = o.Event
	}
	return
}

// Accepted reports whether any relay has taken the tracked event so far.
func (t *T) Accepted(id string) bool {
	t.mx.RLock()
	defer t.mx.RUnlock()
	o, ok := t.outboxes[id]
	return ok && o.Accepted()
}

// Targets returns the relays the event is tracked for.
func (t *T) Targets(id string) relayurl.Set {
	t.mx.RLock()
	defer t.mx.RUnlock()
	o, ok := t.outboxes[id]
	if !ok {
		return relayurl.NewSet()
	}
	return relayurl.NewSet(maps.Keys(o.Tries)...)
}

// Counts returns attempts, failures and successes of the event on the
// relay.
func (t *T) Counts(id string, rl relayurl.T) (attempts, failures, successes int) {
	t.mx.RLock()
	defer t.mx.RUnlock()
	o, ok := t.outboxes[id]
	if !ok {
		return
	}
	if tr := o.Tries[rl]; tr != nil {
		return len(tr.Attempts), tr.Failures(), tr.Successes()
	}
	return
}

// Pending is the number of tracked events.
func (t *T) Pending() int {
	t.mx.RLock()
	defer t.mx.RUnlock()
	return len(t.outboxes)
}

// Relays is every relay still owed some event.
func (t *T) Relays() relayurl.Set { return t.relays.Value() }

func (t *T) OnRelays(fn func(relayurl.Set)) (cancel func()) { return t.relays.Subscribe(fn) }
