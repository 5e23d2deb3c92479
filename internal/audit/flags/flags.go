// Package flags resolves the per-tenant kill switches that gate the audit
// pipeline. Resolution is cache-aside with a TTL; any flag-store failure
// falls back to static defaults so flag outages never become a second
// source of audit data loss.
package flags

import "context"

// WriteMode selects how the writer persists events for a tenant.
type WriteMode string

const (
	// WriteModeOff drops events for the tenant entirely.
	WriteModeOff WriteMode = "off"
	// WriteModeSync bypasses the outbox and writes synchronously.
	WriteModeSync WriteMode = "sync"
	// WriteModeOutbox is the normal resilient path.
	WriteModeOutbox WriteMode = "outbox"
)

// Valid reports whether m is a recognized write mode.
func (m WriteMode) Valid() bool {
	switch m {
	case WriteModeOff, WriteModeSync, WriteModeOutbox:
		return true
	}
	return false
}

// Flag keys understood by the resolver. Unknown keys on the store are
// ignored.
const (
	KeyWriteMode         = "audit.write_mode"
	KeyHashChainEnabled  = "audit.hash_chain_enabled"
	KeyTimelineEnabled   = "audit.timeline_enabled"
	KeyEncryptionEnabled = "audit.encryption_enabled"
)

// FlagSet is the resolved configuration for one tenant.
type FlagSet struct {
	WriteMode         WriteMode
	HashChainEnabled  bool
	TimelineEnabled   bool
	EncryptionEnabled bool
}

// Row is one raw flag record from the store. Config carries
// flag-specific settings; for write_mode it holds the mode string.
type Row struct {
	Key     string
	Enabled bool
	Config  string
}

// Store loads the raw per-tenant flag rows.
type Store interface {
	Load(ctx context.Context, tenantID string) ([]Row, error)
}
