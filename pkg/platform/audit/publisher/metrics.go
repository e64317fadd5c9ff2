package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit publishing.
type Metrics struct {
	Emitted         *prometheus.CounterVec
	Dropped         prometheus.Counter
	PersistFailures prometheus.Counter
	BufferDepth     prometheus.Gauge
}

// NewMetrics registers audit metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Emitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotbox_audit_events_emitted_total",
			Help: "Total number of audit events handed to the audit store",
		}, []string{"category"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "ballotbox_audit_events_dropped_total",
			Help: "Total number of audit events dropped because the async buffer was full",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ballotbox_audit_persist_failures_total",
			Help: "Total number of audit events the store failed to persist",
		}),
		BufferDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "ballotbox_audit_buffer_depth",
			Help: "Number of audit events waiting in the async buffer",
		}),
	}
}

func (m *Metrics) IncEmitted(category string) {
	if m == nil {
		return
	}
	m.Emitted.WithLabelValues(category).Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

func (m *Metrics) IncPersistFailures() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) SetBufferDepth(n int) {
	if m == nil {
		return
	}
	m.BufferDepth.Set(float64(n))
}
