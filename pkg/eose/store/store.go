// Package store keeps EOSE marks so a manager can resume from them after a
// restart. A mark only ever moves forward.
package store

import (
	"errors"
	"os"
	"sync"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("eose store closed")

// Marks is relay → newest EOSE time.
type Marks map[relayurl.T]timestamp.T

// I is a place to keep marks. A scope names one mark map, such as one
// subscription group of one manager.
type I interface {
	// Load returns the marks saved under scope, empty if there are none.
	Load(scope string) (m Marks, err error)
	// Save records t for the relay unless an equal or newer mark is there.
	Save(scope string, rl relayurl.T, t timestamp.T) (err error)
	Close() (err error)
}

// Memory is an I that lives as long as the process.
type Memory struct {
	mx     sync.RWMutex
	scopes map[string]Marks
	closed bool
}

var _ I = (*Memory)(nil)

func NewMemory() *Memory { return &Memory{scopes: make(map[string]Marks)} }

func (m *Memory) Load(scope string) (out Marks, err error) {
	m.mx.RLock()
	defer m.mx.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out = make(Marks, len(m.scopes[scope]))
	for rl, t := range m.scopes[scope] {
		out[rl] = t
	}
	return
}

func (m *Memory) Save(scope string, rl relayurl.T, t timestamp.T) (err error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.closed {
		return ErrClosed
	}
	marks, ok := m.scopes[scope]
	if !ok {
		marks = make(Marks)
		m.scopes[scope] = marks
	}
	if old, ok := marks[rl]; !ok || t > old {
		marks[rl] = t
	}
	return
}

func (m *Memory) Close() (err error) {
	m.mx.Lock()
	m.closed = true
	m.mx.Unlock()
	return
}
