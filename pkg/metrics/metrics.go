// Package metrics exposes pool and outbox activity to prometheus. A nil *T
// is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
)

const namespace = "poolr"

type T struct {
	Connected     prometheus.Gauge
	Available     prometheus.Gauge
	OutboxPending prometheus.Gauge
	Events        *prometheus.CounterVec
	EOSEs         *prometheus.CounterVec
	Sends         *prometheus.CounterVec
	Acks          *prometheus.CounterVec
	Errors        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (m *T) {
	m = &T{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "relays_connected",
			Help: "Relays in the pool with a live connection.",
		}),
		Available: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "relays_available",
			Help: "Relays in the pool.",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "outbox_pending",
			Help: "Events still being delivered.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_received_total",
			Help: "Events received from relays.",
		}, []string{"relay"}),
		EOSEs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "eose_received_total",
			Help: "End of stored events messages received.",
		}, []string{"relay"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total",
			Help: "Messages handed to relay connections.",
		}, []string{"relay", "result"}),
		Acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ok_received_total",
			Help: "OK responses to published events.",
		}, []string{"relay", "result"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_errors_total",
			Help: "Transport and protocol errors reported by relays.",
		}, []string{"relay"}),
	}
	reg.MustRegister(m.Connected, m.Available, m.OutboxPending, m.Events,
		m.EOSEs, m.Sends, m.Acks, m.Errors)
	return
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *T) Status(connected, available int) {
	if m == nil {
		return
	}
	m.Connected.Set(float64(connected))
	m.Available.Set(float64(available))
}

func (m *T) Pending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

func (m *T) Event(r relayurl.T) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(string(r)).Inc()
}

func (m *T) EOSE(r relayurl.T) {
	if m == nil {
		return
	}
	m.EOSEs.WithLabelValues(string(r)).Inc()
}

func (m *T) Send(r relayurl.T, ok bool) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(string(r), result(ok)).Inc()
}

func (m *T) Ack(r relayurl.T, ok bool) {
	if m == nil {
		return
	}
	m.Acks.WithLabelValues(string(r), result(ok)).Inc()
}

func (m *T) Error(r relayurl.T) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(string(r)).Inc()
}
