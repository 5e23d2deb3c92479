// Package writer implements the resilient ingestion path for audit
// events. Write never returns an error and never panics outward: audit
// failures must never fail the business operation that triggered them.
// Events that cannot reach the durable outbox are diverted to a bounded
// in-memory buffer and accounted for in metrics.
package writer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"auditcore/internal/audit"
	"auditcore/internal/audit/flags"
	"auditcore/internal/audit/hashchain"
	"auditcore/pkg/platform/circuit"
)

// DefaultEnqueueTimeout bounds a single outbox enqueue attempt. A slow
// outbox is treated as a failed one: the pipeline degrades to buffering
// instead of stalling the caller.
const DefaultEnqueueTimeout = 2 * time.Second

// Outbox is the durable queue the pipeline writes to. Enqueue is assumed
// at-least-once durable once it returns without error.
type Outbox interface {
	Enqueue(ctx context.Context, tenantID, eventType string, payload []byte) (string, error)
}

// SyncWriter persists an event synchronously, bypassing the outbox. Used
// when a tenant's write mode is "sync".
type SyncWriter interface {
	Write(ctx context.Context, event audit.Event) error
}

// FlagResolver resolves the per-tenant pipeline configuration.
type FlagResolver interface {
	Resolve(ctx context.Context, tenantID string) flags.FlagSet
}

// Hasher links events into the tenant's tamper-evidence chain.
type Hasher interface {
	ComputeHash(tenantID string, event audit.Event) hashchain.Link
}

// Redactor sanitizes event details before persistence.
type Redactor interface {
	Redact(event audit.Event) (audit.Event, bool)
}

// Recorder receives writer observability signals. *Metrics implements it;
// tests substitute their own.
type Recorder interface {
	IncIngested()
	IncBuffered()
	IncDropped(reason string)
	IncDrained()
	SetBufferDepth(depth int)
	SetBreakerOpen(open bool)
}

// ResilientWriter orchestrates the ingestion pipeline: flag gate,
// redaction, hash chaining, breaker-protected outbox enqueue, and
// buffered fallback.
type ResilientWriter struct {
	outbox   Outbox
	resolver FlagResolver

	sync     SyncWriter
	chain    Hasher
	redactor Redactor
	breaker  *circuit.Breaker
	buffer   *RingBuffer

	logger  *slog.Logger
	metrics Recorder

	enqueueTimeout time.Duration
	now            func() time.Time
}

// Option configures the ResilientWriter.
type Option func(*ResilientWriter)

// WithSyncWriter sets the synchronous writer used for sync-mode tenants.
func WithSyncWriter(s SyncWriter) Option {
	return func(w *ResilientWriter) { w.sync = s }
}

// WithHashChain sets the hash chain service.
func WithHashChain(h Hasher) Option {
	return func(w *ResilientWriter) { w.chain = h }
}

// WithRedactor sets the redaction pipeline.
func WithRedactor(r Redactor) Option {
	return func(w *ResilientWriter) { w.redactor = r }
}

// WithBreaker replaces the default outbox circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(w *ResilientWriter) {
		if b != nil {
			w.breaker = b
		}
	}
}

// WithBufferCapacity sets the in-memory overflow buffer capacity.
func WithBufferCapacity(n int) Option {
	return func(w *ResilientWriter) { w.buffer = NewRingBuffer(n) }
}

// WithLogger sets a logger for degradation reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(w *ResilientWriter) { w.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Recorder) Option {
	return func(w *ResilientWriter) { w.metrics = m }
}

// WithEnqueueTimeout bounds each outbox enqueue attempt.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(w *ResilientWriter) {
		if d > 0 {
			w.enqueueTimeout = d
		}
	}
}

// New builds a resilient writer over the given outbox and flag resolver.
func New(outbox Outbox, resolver FlagResolver, opts ...Option) (*ResilientWriter, error) {
	if outbox == nil {
		return nil, errOutboxRequired
	}
	if resolver == nil {
		return nil, errResolverRequired
	}

	w := &ResilientWriter{
		outbox:         outbox,
		resolver:       resolver,
		breaker:        circuit.New("audit-outbox"),
		buffer:         NewRingBuffer(0),
		enqueueTimeout: DefaultEnqueueTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Write runs one event through the pipeline. It never returns an error
// and recovers any panic from its collaborators: the caller's business
// operation must not be affected by audit failures.
func (w *ResilientWriter) Write(ctx context.Context, event audit.Event) {
	defer func() {
		if r := recover(); r != nil {
			if w.logger != nil {
				w.logger.Error("audit write recovered from panic",
					"tenant_id", event.TenantID,
					"event_type", event.EventType,
					"panic", r,
				)
			}
		}
	}()

	w.write(ctx, event)
}

func (w *ResilientWriter) write(ctx context.Context, event audit.Event) {
	fl := w.resolver.Resolve(ctx, event.TenantID)

	if fl.WriteMode == flags.WriteModeOff {
		w.recordDropped(DropReasonFeatureFlagOff)
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = w.now()
	}
	if !event.Severity.Valid() {
		event.Severity = audit.SeverityInfo
	}

	if w.redactor != nil {
		event, _ = w.redactor.Redact(event)
	}

	if fl.WriteMode == flags.WriteModeSync {
		if w.sync != nil {
			if err := w.sync.Write(ctx, event); err == nil {
				w.recordIngested()
				return
			} else if w.logger != nil {
				w.logger.Warn("sync audit write failed, buffering",
					"tenant_id", event.TenantID,
					"event_type", event.EventType,
					"error", err,
				)
			}
		} else if w.logger != nil {
			w.logger.Error("sync write mode with no sync writer configured, buffering",
				"tenant_id", event.TenantID,
			)
		}
		w.bufferEvent(event)
		return
	}

	// Outbox mode. The hash compute call itself is skipped when the flag
	// is off: computing advances the tenant's chain state, which is an
	// observable side effect, not just a field on the stored event.
	if fl.HashChainEnabled && w.chain != nil {
		link := w.chain.ComputeHash(event.TenantID, event)
		event.HashPrev = link.HashPrev
		event.HashCurr = link.HashCurr
	}

	if !w.breaker.Allow() {
		w.setBreakerGauge()
		w.bufferEvent(event)
		return
	}

	if err := w.enqueue(ctx, event); err != nil {
		w.breaker.RecordFailure()
		w.setBreakerGauge()
		if w.logger != nil {
			w.logger.Warn("outbox enqueue failed, buffering",
				"tenant_id", event.TenantID,
				"event_type", event.EventType,
				"error", err,
			)
		}
		w.bufferEvent(event)
		return
	}

	w.breaker.RecordSuccess()
	w.setBreakerGauge()
	w.recordIngested()
}

func (w *ResilientWriter) enqueue(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, w.enqueueTimeout)
	defer cancel()

	_, err = w.outbox.Enqueue(ctx, event.TenantID, event.EventType, payload)
	return err
}

func (w *ResilientWriter) bufferEvent(event audit.Event) {
	evicted := w.buffer.Enqueue(event)
	if w.metrics != nil {
		w.metrics.IncBuffered()
		if evicted {
			w.metrics.IncDropped(DropReasonBufferOverflow)
		}
		w.metrics.SetBufferDepth(w.buffer.Len())
	}
	if evicted && w.logger != nil {
		w.logger.Error("audit buffer overflow, oldest event evicted",
			"tenant_id", event.TenantID,
			"buffer_capacity", w.buffer.capacity,
		)
	}
}

// BufferDepth returns the number of events currently held in the
// in-memory buffer.
func (w *ResilientWriter) BufferDepth() int {
	return w.buffer.Len()
}

// Drain replays up to max buffered events through the outbox. It stops
// early when the breaker refuses calls or an enqueue fails. The failing
// event goes back to the tail of the buffer: a concurrent Write may have
// claimed the freed slot, and strict FIFO is already lost once a replay
// fails, so the event rejoins behind the younger ones rather than
// displacing them. Returns the number of events replayed.
func (w *ResilientWriter) Drain(ctx context.Context, max int) int {
	drained := 0
	for drained < max {
		if !w.breaker.Allow() {
			break
		}

		batch := w.buffer.DequeueBatch(1)
		if len(batch) == 0 {
			break
		}
		event := batch[0]

		if err := w.enqueue(ctx, event); err != nil {
			w.breaker.RecordFailure()
			w.setBreakerGauge()
			if evicted := w.buffer.Enqueue(event); evicted && w.metrics != nil {
				w.metrics.IncDropped(DropReasonBufferOverflow)
			}
			break
		}

		w.breaker.RecordSuccess()
		drained++
		if w.metrics != nil {
			w.metrics.IncDrained()
		}
	}

	if w.metrics != nil {
		w.metrics.SetBufferDepth(w.buffer.Len())
	}
	w.setBreakerGauge()
	return drained
}

// RunDrain replays buffered events on an interval until ctx is done.
// Intended to run as a background goroutine alongside the writer.
func (w *ResilientWriter) RunDrain(ctx context.Context, interval time.Duration, batchSize int) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := w.Drain(ctx, batchSize); n > 0 && w.logger != nil {
				w.logger.Debug("drained buffered audit events", "count", n)
			}
		}
	}
}

func (w *ResilientWriter) recordIngested() {
	if w.metrics != nil {
		w.metrics.IncIngested()
	}
}

func (w *ResilientWriter) recordDropped(reason string) {
	if w.metrics != nil {
		w.metrics.IncDropped(reason)
	}
}

func (w *ResilientWriter) setBreakerGauge() {
	if w.metrics != nil {
		w.metrics.SetBreakerOpen(w.breaker.IsOpen())
	}
}
