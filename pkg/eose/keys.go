package eose

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// KeyRegistry holds the keys observers currently need. The same key may be
// added by several observers; it stays until each of them cancels.
type KeyRegistry[K any] struct {
	mx       sync.Mutex
	next     uint64
	keys     map[uint64]K
	closed   bool
	onChange func()
}

func NewKeyRegistry[K any](onChange func()) *KeyRegistry[K] {
	return &KeyRegistry[K]{keys: make(map[uint64]K), onChange: onChange}
}

// Add registers key and returns the function that removes it again.
func (r *KeyRegistry[K]) Add(key K) (cancel func()) {
	r.mx.Lock()
	if r.closed {
		r.mx.Unlock()
		return func() {}
	}
	r.next++
	token := r.next
	r.keys[token] = key
	r.mx.Unlock()
	r.changed()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mx.Lock()
			delete(r.keys, token)
			closed := r.closed
			r.mx.Unlock()
			if !closed {
				r.changed()
			}
		})
	}
}

func (r *KeyRegistry[K]) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

// All returns the registered keys in the order they were added.
func (r *KeyRegistry[K]) All() (keys []K) {
	r.mx.Lock()
	defer r.mx.Unlock()
	tokens := maps.Keys(r.keys)
	slices.Sort(tokens)
	for _, t := range tokens {
		keys = append(keys, r.keys[t])
	}
	return
}

func (r *KeyRegistry[K]) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.keys)
}

// Close drops every key and ignores later additions.
func (r *KeyRegistry[K]) Close() {
	r.mx.Lock()
	r.closed = true
	r.keys = make(map[uint64]K)
	r.mx.Unlock()
}
