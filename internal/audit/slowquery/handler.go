// Package slowquery watches read-path query durations and raises a
// security signal when a query exceeds the threshold. The logged record
// deliberately excludes actor and user identifiers so operational logs
// stay free of PII even during incident response.
package slowquery

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultThreshold is the duration above which a query counts as slow.
const DefaultThreshold = 200 * time.Millisecond

// Query describes the shape of a query for logging. Callers must not put
// actor or user identifiers in these fields.
type Query struct {
	TenantID  string
	Operation string // e.g. "audit.timeline", "audit.export"
	Table     string
	RowCount  int
}

// Metrics holds Prometheus metrics for slow query detection.
type Metrics struct {
	SlowDetected *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with slow query metrics registered.
func NewMetrics() *Metrics {
	return &Metrics{
		SlowDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auditcore_query_slow_detected_total",
			Help: "Total number of read-path queries exceeding the slow threshold, by tenant",
		}, []string{"tenant_id"}),
	}
}

// Handler observes query durations. It is fire-and-forget and null-safe:
// a zero-value Handler with no logger or metrics does nothing and never
// panics.
type Handler struct {
	threshold time.Duration
	logger    *slog.Logger
	metrics   *Metrics
}

// Option configures the Handler.
type Option func(*Handler)

// WithThreshold overrides the slow query threshold.
func WithThreshold(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.threshold = d
		}
	}
}

// WithLogger sets the warning logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New creates a slow query handler with the default 200ms threshold.
func New(opts ...Option) *Handler {
	h := &Handler{threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle records one observed query duration. Dependencies may all be
// absent; the call still returns normally.
func (h *Handler) Handle(duration time.Duration, query Query) {
	if h == nil || duration <= h.thresholdOrDefault() {
		return
	}

	if h.metrics != nil {
		h.metrics.SlowDetected.WithLabelValues(query.TenantID).Inc()
	}
	if h.logger != nil {
		h.logger.Warn("slow audit query detected",
			"tenant_id", query.TenantID,
			"operation", query.Operation,
			"table", query.Table,
			"row_count", query.RowCount,
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", h.thresholdOrDefault().Milliseconds(),
		)
	}
}

func (h *Handler) thresholdOrDefault() time.Duration {
	if h.threshold > 0 {
		return h.threshold
	}
	return DefaultThreshold
}
