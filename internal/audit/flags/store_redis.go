package flags

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefix for per-tenant flag hashes.
	flagKeyPrefix = "audit:flags:"
)

// RedisStore reads per-tenant flag rows from a Redis hash. Each hash field
// is a flag key; the value is a small JSON document with the enabled bit
// and optional config string.
//
// This is the production-recommended store for distributed deployments
// where flags must take effect on every instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed flag store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisFlag struct {
	Enabled bool   `json:"enabled"`
	Config  string `json:"config,omitempty"`
}

// Load returns all flag rows set for the tenant. A missing hash is not an
// error: it simply means the tenant has no overrides.
func (s *RedisStore) Load(ctx context.Context, tenantID string) ([]Row, error) {
	fields, err := s.client.HGetAll(ctx, flagKeyPrefix+tenantID).Result()
	if err != nil {
		return nil, fmt.Errorf("load flags for %s: %w", tenantID, err)
	}

	rows := make([]Row, 0, len(fields))
	for key, raw := range fields {
		var f redisFlag
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			// Skip malformed rows; the resolver's defaults win.
			continue
		}
		rows = append(rows, Row{Key: key, Enabled: f.Enabled, Config: f.Config})
	}
	return rows, nil
}

// Set writes one flag override for a tenant. Used by operational tooling
// and tests.
func (s *RedisStore) Set(ctx context.Context, tenantID string, row Row) error {
	raw, err := json.Marshal(redisFlag{Enabled: row.Enabled, Config: row.Config})
	if err != nil {
		return fmt.Errorf("marshal flag %s: %w", row.Key, err)
	}
	if err := s.client.HSet(ctx, flagKeyPrefix+tenantID, row.Key, raw).Err(); err != nil {
		return fmt.Errorf("set flag %s for %s: %w", row.Key, tenantID, err)
	}
	return nil
}
