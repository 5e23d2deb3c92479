// Package export batches audit events into compliance export objects
// uploaded to object storage. Each export carries a digest over its
// serialized contents so an auditor can confirm the uploaded batch was
// not altered after the fact.
package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"auditcore/internal/audit"
	"auditcore/pkg/platform/sentinel"
)

// ObjectStorage is the narrow sink interface exports are written to.
type ObjectStorage interface {
	Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error
}

// Manifest describes one completed export.
type Manifest struct {
	Key        string    `json:"key"`
	TenantID   string    `json:"tenantId"`
	EventCount int       `json:"eventCount"`
	Digest     string    `json:"digest"`
	ExportedAt time.Time `json:"exportedAt"`
}

// Service builds and uploads compliance exports.
type Service struct {
	storage ObjectStorage
	prefix  string
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithPrefix overrides the object key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithLogger sets a logger for export reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// withClock overrides time for tests.
func withClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates an export service over the given storage sink.
func New(storage ObjectStorage, opts ...Option) (*Service, error) {
	if storage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	s := &Service{
		storage: storage,
		prefix:  "audit-exports",
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type exportDocument struct {
	TenantID   string        `json:"tenantId"`
	ExportedAt time.Time     `json:"exportedAt"`
	EventCount int           `json:"eventCount"`
	Events     []audit.Event `json:"events"`
}

// Export serializes the batch, digests it, and uploads it under a
// content-addressed key. Unlike the write path this surfaces errors: an
// export is an operator-driven action and a silent failure would defeat
// its purpose.
func (s *Service) Export(ctx context.Context, tenantID string, events []audit.Event) (Manifest, error) {
	if len(events) == 0 {
		return Manifest{}, fmt.Errorf("no events to export for %s: %w", tenantID, sentinel.ErrNotFound)
	}

	exportedAt := s.now().UTC()
	doc := exportDocument{
		TenantID:   tenantID,
		ExportedAt: exportedAt,
		EventCount: len(events),
		Events:     events,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return Manifest{}, fmt.Errorf("serialize export for %s: %w", tenantID, err)
	}

	sum := sha256.Sum256(buf.Bytes())
	digest := hex.EncodeToString(sum[:])

	key := fmt.Sprintf("%s/%s/%s-%s.json",
		s.prefix,
		tenantID,
		exportedAt.Format("20060102T150405Z"),
		digest[:8],
	)

	metadata := map[string]string{
		"tenant-id":   tenantID,
		"event-count": fmt.Sprintf("%d", len(events)),
		"digest":      digest,
	}
	if err := s.storage.Put(ctx, key, buf.Bytes(), "application/json", metadata); err != nil {
		if s.logger != nil {
			s.logger.Error("compliance export upload failed",
				"tenant_id", tenantID,
				"key", key,
				"error", err,
			)
		}
		return Manifest{}, fmt.Errorf("upload export %s: %v: %w", key, err, sentinel.ErrUnavailable)
	}

	if s.logger != nil {
		s.logger.Debug("compliance export uploaded",
			"tenant_id", tenantID,
			"key", key,
			"event_count", len(events),
		)
	}

	return Manifest{
		Key:        key,
		TenantID:   tenantID,
		EventCount: len(events),
		Digest:     digest,
		ExportedAt: exportedAt,
	}, nil
}
