package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Status(2, 5)
	m.Pending(3)
	m.Event("wss://a.com")
	m.Event("wss://a.com")
	m.EOSE("wss://a.com")
	m.Send("wss://a.com", true)
	m.Ack("wss://a.com", false)
	m.Error("wss://b.com")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Connected))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Available))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OutboxPending))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("wss://a.com")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Acks.WithLabelValues("wss://a.com", "failure")))
	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	// registering twice on the same registry is a programming error
	assert.Panics(t, func() { New(reg) })
}

func TestNilIsNoop(t *testing.T) {
	var m *T
	m.Status(1, 1)
	m.Pending(1)
	m.Event("x")
	m.EOSE("x")
	m.Send("x", true)
	m.Ack("x", true)
	m.Error("x")
}
