// Package flow is an observable value that only notifies its subscribers
// when it actually changes.
package flow

import (
	"sync"
)

// State holds a value of V. Emit replaces it and notifies subscribers only
// if the new value differs from the current one according to the equality
// function given at construction.
type State[V any] struct {
	mx     sync.Mutex
	emitMx sync.Mutex
	value  V
	equal  func(a, b V) bool
	subs   map[uint64]func(V)
	nextID uint64
}

func New[V any](initial V, equal func(a, b V) bool) *State[V] {
	return &State[V]{value: initial, equal: equal, subs: make(map[uint64]func(V))}
}

// NewComparable makes a State for a comparable type using ==.
func NewComparable[V comparable](initial V) *State[V] {
	return New(initial, func(a, b V) bool { return a == b })
}

func (s *State[V]) Value() V {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.value
}

// Emit stores v and, if it differs from the previous value, calls every
// subscriber with it. Subscribers are called one emission at a time, in the
// order the emissions were accepted, so a subscriber must not Emit on the
// same State.
func (s *State[V]) Emit(v V) (changed bool) {
	s.emitMx.Lock()
	defer s.emitMx.Unlock()
	s.mx.Lock()
	if s.equal(s.value, v) {
		s.mx.Unlock()
		return
	}
	s.value = v
	subs := make([]func(V), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mx.Unlock()
	for _, fn := range subs {
		fn(v)
	}
	return true
}

// Subscribe registers fn for future changes. The returned function removes
// the registration.
func (s *State[V]) Subscribe(fn func(V)) (cancel func()) {
	s.mx.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mx.Unlock()
	return func() {
		s.mx.Lock()
		delete(s.subs, id)
		s.mx.Unlock()
	}
}
