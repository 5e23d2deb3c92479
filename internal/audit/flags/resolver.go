package flags

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long a resolved flag set stays cached per tenant.
const DefaultTTL = 30 * time.Second

// Resolver resolves per-tenant flag sets with a TTL cache over a Store.
// Missing or unrecognized values fall back to the static defaults, never
// to an undefined state.
type Resolver struct {
	store    Store
	defaults FlagSet
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cached
}

type cached struct {
	set     FlagSet
	expires time.Time
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets a logger for store-failure reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// withClock overrides time for tests.
func withClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver builds a resolver. store may be nil, in which case every
// tenant resolves to defaults.
func NewResolver(store Store, defaults FlagSet, opts ...Option) *Resolver {
	if !defaults.WriteMode.Valid() {
		defaults.WriteMode = WriteModeOutbox
	}
	r := &Resolver{
		store:    store,
		defaults: defaults,
		ttl:      DefaultTTL,
		now:      time.Now,
		cache:    make(map[string]cached),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Defaults returns the static default flag set.
func (r *Resolver) Defaults() FlagSet {
	return r.defaults
}

// Resolve returns the tenant's flag set, serving from cache within the
// TTL. Store errors resolve to defaults: the write path must keep a
// well-defined mode even when the flag source is down.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) FlagSet {
	r.mu.RLock()
	entry, ok := r.cache[tenantID]
	r.mu.RUnlock()
	if ok && r.now().Before(entry.expires) {
		if r.metrics != nil {
			r.metrics.IncCacheHit()
		}
		return entry.set
	}

	set := r.load(ctx, tenantID)

	r.mu.Lock()
	r.cache[tenantID] = cached{set: set, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()

	return set
}

// InvalidateCache drops the cached entry for one tenant so the next
// Resolve reloads immediately.
func (r *Resolver) InvalidateCache(tenantID string) {
	r.mu.Lock()
	delete(r.cache, tenantID)
	r.mu.Unlock()
}

// InvalidateAll drops every cached entry.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]cached)
	r.mu.Unlock()
}

func (r *Resolver) load(ctx context.Context, tenantID string) FlagSet {
	if r.store == nil {
		return r.defaults
	}

	rows, err := r.store.Load(ctx, tenantID)
	if err != nil {
		if r.metrics != nil {
			r.metrics.IncStoreErrors()
		}
		if r.logger != nil {
			r.logger.Warn("flag store unavailable, using defaults",
				"tenant_id", tenantID,
				"error", err,
			)
		}
		return r.defaults
	}
	if r.metrics != nil {
		r.metrics.IncCacheMiss()
	}

	return merge(r.defaults, rows)
}

// merge overlays store rows on the defaults. Unrecognized write modes are
// ignored so a bad row can never push a tenant into an undefined mode.
func merge(defaults FlagSet, rows []Row) FlagSet {
	set := defaults
	for _, row := range rows {
		switch row.Key {
		case KeyWriteMode:
			if mode := WriteMode(row.Config); mode.Valid() {
				set.WriteMode = mode
			}
		case KeyHashChainEnabled:
			set.HashChainEnabled = row.Enabled
		case KeyTimelineEnabled:
			set.TimelineEnabled = row.Enabled
		case KeyEncryptionEnabled:
			set.EncryptionEnabled = row.Enabled
		}
	}
	return set
}
