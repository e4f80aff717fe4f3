package flow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitOnlyOnChange(t *testing.T) {
	s := NewComparable(0)
	var got []int
	cancel := s.Subscribe(func(v int) { got = append(got, v) })
	assert.False(t, s.Emit(0))
	assert.True(t, s.Emit(1))
	assert.False(t, s.Emit(1))
	assert.True(t, s.Emit(2))
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 2, s.Value())
	cancel()
	s.Emit(3)
	assert.Equal(t, []int{1, 2}, got)
}

func TestCustomEquality(t *testing.T) {
	s := New([]string(nil), func(a, b []string) bool { return len(a) == len(b) })
	n := 0
	s.Subscribe(func([]string) { n++ })
	s.Emit([]string{})
	s.Emit([]string{"a"})
	s.Emit([]string{"b"})
	assert.Equal(t, 1, n)
}

func TestConcurrentEmit(t *testing.T) {
	s := NewComparable(0)
	var mx sync.Mutex
	seen := map[int]int{}
	s.Subscribe(func(v int) {
		mx.Lock()
		seen[v]++
		mx.Unlock()
	})
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Emit(i)
		}(i)
	}
	wg.Wait()
	for v, n := range seen {
		assert.Equal(t, 1, n, "value %d", v)
	}
}
