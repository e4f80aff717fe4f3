// Package coalesce collapses bursts of invalidation requests into a single
// delayed action.
package coalesce

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultWindow is the debounce window used by the pool orchestration.
const DefaultWindow = 300 * time.Millisecond

// T runs the most recently requested action once the window has passed
// without a further request. Actions run one at a time.
type T struct {
	mx     sync.Mutex
	worker sync.Mutex
	clock  clock.Clock
	window time.Duration
	timer  *clock.Timer
	gen    uint64
}

type Option func(*T)

// WithClock replaces the wall clock, which is how tests drive the timer.
func WithClock(c clock.Clock) Option { return func(t *T) { t.clock = c } }

func New(window time.Duration, opts ...Option) (c *T) {
	c = &T{clock: clock.New(), window: window}
	for _, o := range opts {
		o(c)
	}
	return
}

// Invalidate schedules action to run after the window. A pending action is
// dropped and the window starts again.
func (c *T) Invalidate(action func()) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.window, func() { c.fire(gen, action) })
}

func (c *T) fire(gen uint64, action func()) {
	c.mx.Lock()
	if gen != c.gen {
		c.mx.Unlock()
		return
	}
	c.timer = nil
	c.mx.Unlock()
	c.worker.Lock()
	defer c.worker.Unlock()
	action()
}

// Pending reports whether an action is waiting for its window to pass.
func (c *T) Pending() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.timer != nil
}

// Cancel drops the pending action, if any. An action already running is
// not interrupted.
func (c *T) Cancel() {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}
