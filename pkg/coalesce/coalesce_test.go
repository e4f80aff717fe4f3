package coalesce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstRunsOnce(t *testing.T) {
	mock := clock.NewMock()
	c := New(DefaultWindow, WithClock(mock))
	var runs atomic.Int32
	var last atomic.Int32
	for i := 0; i < 10; i++ {
		i := i
		c.Invalidate(func() {
			runs.Add(1)
			last.Store(int32(i))
		})
		mock.Add(5 * time.Millisecond)
	}
	// the last request was made at 45ms, so nothing may run before 345ms
	mock.Add(294 * time.Millisecond)
	assert.Never(t, func() bool { return runs.Load() > 0 },
		50*time.Millisecond, 5*time.Millisecond)
	assert.True(t, c.Pending())
	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return runs.Load() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(9), last.Load())
	mock.Add(time.Second)
	assert.Never(t, func() bool { return runs.Load() > 1 },
		50*time.Millisecond, 5*time.Millisecond)
	assert.False(t, c.Pending())
}

func TestCancel(t *testing.T) {
	mock := clock.NewMock()
	c := New(DefaultWindow, WithClock(mock))
	var runs atomic.Int32
	c.Invalidate(func() { runs.Add(1) })
	c.Cancel()
	c.Cancel()
	mock.Add(time.Second)
	assert.Never(t, func() bool { return runs.Load() > 0 },
		50*time.Millisecond, 5*time.Millisecond)
	c.Invalidate(func() { runs.Add(1) })
	mock.Add(DefaultWindow)
	require.Eventually(t, func() bool { return runs.Load() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestWallClock(t *testing.T) {
	c := New(20 * time.Millisecond)
	done := make(chan time.Time, 1)
	start := time.Now()
	c.Invalidate(func() { done <- time.Now() })
	select {
	case at := <-done:
		assert.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("action did not run")
	}
}
