package eose

import (
	"sync"

	"golang.org/x/exp/maps"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/filter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayfilter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
)

// Marks holds, per relay, the time of the newest EOSE seen. Marks never move
// backwards. A nil *Marks has no marks and ignores updates.
type Marks struct {
	mx sync.RWMutex
	m  map[relayurl.T]timestamp.T
}

func NewMarks() *Marks { return &Marks{m: make(map[relayurl.T]timestamp.T)} }

// Advance moves the relay's mark to t if t is newer, and reports whether it
// did.
func (m *Marks) Advance(rl relayurl.T, t timestamp.T) (moved bool) {
	if m == nil {
		return
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	if old, ok := m.m[rl]; ok && old >= t {
		return
	}
	m.m[rl] = t
	return true
}

// Since is the mark for the relay, or nil if there is none.
func (m *Marks) Since(rl relayurl.T) *timestamp.T {
	if m == nil {
		return nil
	}
	m.mx.RLock()
	defer m.mx.RUnlock()
	if t, ok := m.m[rl]; ok {
		return t.Ptr()
	}
	return nil
}

// Snapshot copies the marks.
func (m *Marks) Snapshot() map[relayurl.T]timestamp.T {
	if m == nil {
		return nil
	}
	m.mx.RLock()
	defer m.mx.RUnlock()
	return maps.Clone(m.m)
}

// Merge advances every relay in o.
func (m *Marks) Merge(o map[relayurl.T]timestamp.T) {
	for rl, t := range o {
		m.Advance(rl, t)
	}
}

// PerRelay makes one relay filter per relay and filter, each starting at the
// relay's mark unless the filter already starts later.
func (m *Marks) PerRelay(relays relayurl.Set, ff ...*filter.T) (out []relayfilter.T) {
	for _, rl := range relays.Slice() {
		since := m.Since(rl)
		for _, f := range ff {
			if since != nil && (f.Since == nil || *f.Since < *since) {
				f = f.WithSince(since)
			}
			out = append(out, relayfilter.New(rl, f))
		}
	}
	return
}

// Keyed is a family of Marks, one per key, created on first use and kept
// after the key goes away so it can be picked up again.
type Keyed[K comparable] struct {
	mx    sync.Mutex
	marks map[K]*Marks
	// init, when set, fills a new Marks before it is handed out.
	init func(k K, m *Marks)
}

func NewKeyed[K comparable](init func(k K, m *Marks)) *Keyed[K] {
	return &Keyed[K]{marks: make(map[K]*Marks), init: init}
}

// Get returns the marks of k, creating them if needed.
func (k *Keyed[K]) Get(key K) *Marks {
	k.mx.Lock()
	defer k.mx.Unlock()
	m, ok := k.marks[key]
	if !ok {
		m = NewMarks()
		if k.init != nil {
			k.init(key, m)
		}
		k.marks[key] = m
	}
	return m
}

// Peek returns the marks of k without creating them.
func (k *Keyed[K]) Peek(key K) (m *Marks, ok bool) {
	k.mx.Lock()
	defer k.mx.Unlock()
	m, ok = k.marks[key]
	return
}

func (k *Keyed[K]) Delete(key K) {
	k.mx.Lock()
	delete(k.marks, key)
	k.mx.Unlock()
}

func (k *Keyed[K]) Len() int {
	k.mx.Lock()
	defer k.mx.Unlock()
	return len(k.marks)
}
