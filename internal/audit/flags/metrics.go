package flags

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for flag resolution.
type Metrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	StoreErrors prometheus.Counter
}

// NewMetrics creates a Metrics instance with flag resolver metrics registered.
func NewMetrics() *Metrics {
	return &Metrics{
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auditcore_flags_cache_hits_total",
			Help: "Total number of flag resolutions served from cache",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auditcore_flags_cache_misses_total",
			Help: "Total number of flag resolutions loaded from the store",
		}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auditcore_flags_store_errors_total",
			Help: "Total number of flag store failures resolved to defaults",
		}),
	}
}

// IncCacheHit increments the cache hit counter.
func (m *Metrics) IncCacheHit() { m.CacheHits.Inc() }

// IncCacheMiss increments the cache miss counter.
func (m *Metrics) IncCacheMiss() { m.CacheMisses.Inc() }

// IncStoreErrors increments the store error counter.
func (m *Metrics) IncStoreErrors() { m.StoreErrors.Inc() }
