// Package store persists audit events to the relational store used for
// querying. The writer uses it as the synchronous path for sync-mode
// tenants; the read side serves tenant timelines and compliance exports.
//
// Column encryption happens here, not inside the writer: designated
// sensitive columns are encrypted on write and decrypted on read when the
// tenant's encryption flag is on.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"auditcore/internal/audit"
	"auditcore/internal/audit/crypto"
	"auditcore/internal/audit/flags"
	"auditcore/internal/audit/slowquery"
	"auditcore/pkg/platform/tx"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Column names offered to the column encryption service. Which of them
// are actually encrypted is decided by the service's configured set.
const (
	colDetails           = "details"
	colActorDisplayName  = "actor_display_name"
	colEntityDisplayName = "entity_display_name"
)

// FlagResolver resolves the per-tenant pipeline configuration.
type FlagResolver interface {
	Resolve(ctx context.Context, tenantID string) flags.FlagSet
}

// Postgres reads and writes the audit_events table.
type Postgres struct {
	db       *sql.DB
	columns  *crypto.ColumnService
	resolver FlagResolver
	slow     *slowquery.Handler
	logger   *slog.Logger
}

// Option configures the Postgres store.
type Option func(*Postgres)

// WithColumnService enables encryption of the sensitive columns (details
// and the display names, per the service's configured set).
func WithColumnService(c *crypto.ColumnService) Option {
	return func(s *Postgres) { s.columns = c }
}

// WithFlagResolver gates encryption and timeline reads per tenant.
func WithFlagResolver(r FlagResolver) Option {
	return func(s *Postgres) { s.resolver = r }
}

// WithSlowQueryHandler observes read-path query durations.
func WithSlowQueryHandler(h *slowquery.Handler) Option {
	return func(s *Postgres) { s.slow = h }
}

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Postgres) { s.logger = logger }
}

// NewPostgres creates the relational audit store.
func NewPostgres(db *sql.DB, opts ...Option) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle is required")
	}
	s := &Postgres{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Write inserts one event synchronously. Implements the writer's
// SyncWriter for sync-mode tenants. When the context carries a SQL
// transaction (pkg/platform/tx), the insert joins it so the audit record
// commits or rolls back with the business change it describes.
func (s *Postgres) Write(ctx context.Context, event audit.Event) error {
	cols, err := s.encodeSensitive(ctx, event)
	if err != nil {
		return err
	}

	var workflowJSON []byte
	if event.Workflow != nil {
		workflowJSON, err = json.Marshal(event.Workflow)
		if err != nil {
			return fmt.Errorf("marshal workflow: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			id, tenant_id, event_type, severity, instance_id,
			entity_type, entity_id, entity_reference_code, entity_display_name,
			actor_user_id, actor_display_name,
			workflow, occurred_at, details, hash_prev, hash_curr, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	var exec execer = s.db
	if txn, ok := tx.From(ctx); ok {
		exec = txn
	}
	_, err = exec.ExecContext(ctx, query,
		uuid.New(),
		event.TenantID,
		event.EventType,
		string(event.Severity),
		event.InstanceID,
		event.Entity.Type,
		event.Entity.ID,
		event.Entity.ReferenceCode,
		cols[colEntityDisplayName],
		event.Actor.UserID,
		cols[colActorDisplayName],
		workflowJSON,
		event.Timestamp.UTC(),
		cols[colDetails],
		event.HashPrev,
		event.HashCurr,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Timeline returns the tenant's most recent events, newest first. Returns
// ErrTimelineDisabled when the tenant's timeline flag is off. The
// query duration feeds the slow query handler.
func (s *Postgres) Timeline(ctx context.Context, tenantID string, limit int) ([]audit.Event, error) {
	if s.resolver != nil && !s.resolver.Resolve(ctx, tenantID).TimelineEnabled {
		return nil, ErrTimelineDisabled
	}
	if limit <= 0 {
		limit = 100
	}

	start := time.Now()

	query := `
		SELECT id, tenant_id, event_type, severity, instance_id,
			entity_type, entity_id, entity_reference_code, entity_display_name,
			actor_user_id, actor_display_name,
			workflow, occurred_at, details, hash_prev, hash_curr
		FROM audit_events
		WHERE tenant_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		ev, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}

	if s.slow != nil {
		s.slow.Handle(time.Since(start), slowquery.Query{
			TenantID:  tenantID,
			Operation: "audit.timeline",
			Table:     "audit_events",
			RowCount:  len(events),
		})
	}

	return events, nil
}

func (s *Postgres) scanEvent(rows *sql.Rows) (audit.Event, error) {
	var (
		ev           audit.Event
		severity     string
		entityName   string
		actorName    string
		workflowJSON []byte
		detailsCol   sql.NullString
	)
	err := rows.Scan(
		&ev.ID, &ev.TenantID, &ev.EventType, &severity, &ev.InstanceID,
		&ev.Entity.Type, &ev.Entity.ID, &ev.Entity.ReferenceCode, &entityName,
		&ev.Actor.UserID, &actorName,
		&workflowJSON, &ev.Timestamp, &detailsCol, &ev.HashPrev, &ev.HashCurr,
	)
	if err != nil {
		return audit.Event{}, fmt.Errorf("scan audit event: %w", err)
	}
	ev.Severity = audit.Severity(severity)

	if len(workflowJSON) > 0 {
		var wf audit.Workflow
		if err := json.Unmarshal(workflowJSON, &wf); err != nil {
			return audit.Event{}, fmt.Errorf("unmarshal workflow: %w", err)
		}
		ev.Workflow = &wf
	}

	var details *string
	if detailsCol.Valid && detailsCol.String != "" {
		details = &detailsCol.String
	}
	cols := map[string]*string{
		colDetails:           details,
		colActorDisplayName:  &actorName,
		colEntityDisplayName: &entityName,
	}
	if s.columns != nil {
		// Decrypt is lenient: rows written before encryption was enabled
		// come back unchanged.
		cols, err = s.columns.DecryptColumns(ev.TenantID, cols)
		if err != nil {
			return audit.Event{}, fmt.Errorf("decrypt columns: %w", err)
		}
	}

	if v := cols[colActorDisplayName]; v != nil {
		ev.Actor.DisplayName = *v
	}
	if v := cols[colEntityDisplayName]; v != nil {
		ev.Entity.DisplayName = *v
	}
	if v := cols[colDetails]; v != nil {
		if err := json.Unmarshal([]byte(*v), &ev.Details); err != nil {
			return audit.Event{}, fmt.Errorf("unmarshal details: %w", err)
		}
	}

	return ev, nil
}

// encodeSensitive serializes the details map and runs the sensitive
// columns through the column service when the tenant's encryption flag
// is on. The service's configured column set decides which of the
// offered columns are actually encrypted.
func (s *Postgres) encodeSensitive(ctx context.Context, event audit.Event) (map[string]*string, error) {
	var details *string
	if event.Details != nil {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return nil, fmt.Errorf("marshal details: %w", err)
		}
		encoded := string(raw)
		details = &encoded
	}

	actorName := event.Actor.DisplayName
	entityName := event.Entity.DisplayName
	cols := map[string]*string{
		colDetails:           details,
		colActorDisplayName:  &actorName,
		colEntityDisplayName: &entityName,
	}

	encrypt := s.columns != nil
	if encrypt && s.resolver != nil {
		encrypt = s.resolver.Resolve(ctx, event.TenantID).EncryptionEnabled
	}
	if !encrypt {
		return cols, nil
	}

	out, err := s.columns.EncryptColumns(event.TenantID, cols)
	if err != nil {
		return nil, fmt.Errorf("encrypt columns: %w", err)
	}
	return out, nil
}
