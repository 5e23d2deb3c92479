package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used as metric label values.
const (
	DropReasonFeatureFlagOff = "feature_flag_off"
	DropReasonBufferOverflow = "buffer_overflow"
)

// Metrics holds Prometheus metrics for the resilient writer.
type Metrics struct {
	Ingested     prometheus.Counter
	Buffered     prometheus.Counter
	Dropped      *prometheus.CounterVec
	Drained      prometheus.Counter
	BufferDepth  prometheus.Gauge
	BreakerState prometheus.Gauge
}

// NewMetrics creates a Metrics instance with writer metrics registered.
func NewMetrics() *Metrics {
	return &Metrics{
		Ingested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auditcore_writer_events_ingested_total",
			Help: "Total number of audit events durably handed to the outbox or sync writer",
		}),
		Buffered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auditcore_writer_events_buffered_total",
			Help: "Total number of audit events diverted to the in-memory buffer",
		}),
		Dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auditcore_writer_events_dropped_total",
			Help: "Total number of audit events dropped, by reason",
		}, []string{"reason"}),
		Drained: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auditcore_writer_events_drained_total",
			Help: "Total number of buffered audit events replayed to the outbox",
		}),
		BufferDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auditcore_writer_buffer_depth",
			Help: "Current number of audit events held in the in-memory buffer",
		}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auditcore_writer_outbox_breaker_state",
			Help: "Outbox circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

// IncIngested increments the ingested counter.
func (m *Metrics) IncIngested() { m.Ingested.Inc() }

// IncBuffered increments the buffered counter.
func (m *Metrics) IncBuffered() { m.Buffered.Inc() }

// IncDropped increments the dropped counter for a reason.
func (m *Metrics) IncDropped(reason string) { m.Dropped.WithLabelValues(reason).Inc() }

// IncDrained increments the drained counter.
func (m *Metrics) IncDrained() { m.Drained.Inc() }

// SetBufferDepth sets the buffer depth gauge.
func (m *Metrics) SetBufferDepth(depth int) { m.BufferDepth.Set(float64(depth)) }

// SetBreakerOpen sets the breaker state gauge.
func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerState.Set(1)
	} else {
		m.BreakerState.Set(0)
	}
}
