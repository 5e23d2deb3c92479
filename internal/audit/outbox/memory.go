package outbox

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Entry is one enqueued record held by the in-memory outbox.
type Entry struct {
	ID        string
	TenantID  string
	EventType string
	Payload   []byte
}

// Memory is an in-memory outbox for tests and development. Failures can
// be injected to exercise the writer's degraded paths.
type Memory struct {
	mu      sync.Mutex
	entries []Entry

	// Err, when set, is returned by every Enqueue.
	Err error
}

// NewMemory creates an empty in-memory outbox.
func NewMemory() *Memory {
	return &Memory{}
}

// Enqueue appends the record, or fails with the injected error.
func (m *Memory) Enqueue(_ context.Context, tenantID, eventType string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}

	entry := Entry{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		EventType: eventType,
		Payload:   append([]byte(nil), payload...),
	}
	m.entries = append(m.entries, entry)
	return entry.ID, nil
}

// Entries returns a copy of everything enqueued so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Len returns the number of enqueued records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Fail injects err into subsequent Enqueue calls; Fail(nil) heals it.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// Clear drops all entries.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}
