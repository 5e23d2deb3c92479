package flags

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory flag store for tests and single-node
// development setups.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string][]Row

	// Err, when set, is returned by every Load. Used to exercise the
	// resolver's fail-open path in tests.
	Err error
}

// NewMemoryStore creates an empty in-memory flag store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string][]Row)}
}

// Load returns the tenant's flag rows.
func (s *MemoryStore) Load(_ context.Context, tenantID string) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]Row(nil), s.rows[tenantID]...), nil
}

// Set replaces the value of one flag for a tenant.
func (s *MemoryStore) Set(tenantID string, row Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.rows[tenantID] {
		if existing.Key == row.Key {
			s.rows[tenantID][i] = row
			return
		}
	}
	s.rows[tenantID] = append(s.rows[tenantID], row)
}

// Clear removes all rows for all tenants.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string][]Row)
}
