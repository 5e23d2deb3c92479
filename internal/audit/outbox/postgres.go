// Package outbox provides implementations of the writer's Outbox
// interface. The Postgres implementation follows the transactional outbox
// pattern: events land in an outbox table and a downstream relay moves
// them to the processing queue.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Postgres writes audit events to the outbox table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed outbox.
func NewPostgres(db *sql.DB) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle is required")
	}
	return &Postgres{db: db}, nil
}

// Enqueue inserts one event into the outbox table and returns the entry
// id. The payload is stored as-is; the relay treats it as opaque JSON.
func (p *Postgres) Enqueue(ctx context.Context, tenantID, eventType string, payload []byte) (string, error) {
	entryID := uuid.New()

	query := `
		INSERT INTO audit_outbox (id, tenant_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := p.db.ExecContext(ctx, query,
		entryID,
		tenantID,
		eventType,
		payload,
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert outbox entry: %w", err)
	}
	return entryID.String(), nil
}

// ChainHeads returns the most recent hash_curr for every tenant with
// outbox entries. The chain service seeds from this on startup so a
// restart resumes each tenant's chain instead of restarting from
// genesis. Tenants whose latest payload carries no hash map to the
// empty string.
func (p *Postgres) ChainHeads(ctx context.Context) (map[string]string, error) {
	query := `
		SELECT DISTINCT ON (tenant_id) tenant_id, COALESCE(payload->>'hashCurr', '')
		FROM audit_outbox
		ORDER BY tenant_id, created_at DESC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query chain heads: %w", err)
	}
	defer rows.Close()

	heads := make(map[string]string)
	for rows.Next() {
		var tenantID, hash string
		if err := rows.Scan(&tenantID, &hash); err != nil {
			return nil, fmt.Errorf("scan chain head: %w", err)
		}
		heads[tenantID] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chain heads: %w", err)
	}
	return heads, nil
}
