// Package crypto provides tenant-scoped column encryption for sensitive
// audit fields. Keys are derived per tenant and version from a single
// master secret, so tenants never share key material and a tenant's key
// can be rotated without touching anyone else's data.
package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// MinMasterKeyLength is the minimum accepted master secret length. Shorter
// secrets are rejected at construction so weak configuration fails fast.
const MinMasterKeyLength = 32

// ErrWeakMasterKey is returned by NewDerivedKeyProvider for master secrets
// shorter than MinMasterKeyLength.
var ErrWeakMasterKey = fmt.Errorf("master key must be at least %d characters", MinMasterKeyLength)

// ErrUnknownKeyVersion is returned when a payload references a key version
// newer than anything the provider has issued for that tenant.
var ErrUnknownKeyVersion = errors.New("unknown key version")

// KEK is a key-encrypting key: the derived key bytes plus the tenant
// version they were derived under.
type KEK struct {
	Key     []byte
	Version int
}

// KeyProvider hands out tenant- and version-scoped keys.
type KeyProvider interface {
	// CurrentKEK returns the tenant's active key and version.
	CurrentKEK(tenantID string) (KEK, error)
	// KEKByVersion returns the tenant's key for a specific version, used
	// to decrypt payloads written before a rotation.
	KEKByVersion(tenantID string, version int) ([]byte, error)
	// RotateKEK bumps the tenant's version and returns the new version.
	// Versions increase monotonically.
	RotateKEK(tenantID string) (int, error)
}

// DerivedKeyProvider derives 256-bit keys with HKDF-SHA256 from a master
// secret, keyed by tenant and version. Version counters live in process
// memory and start at 1 for every tenant.
type DerivedKeyProvider struct {
	master []byte

	mu       sync.Mutex
	versions map[string]int
}

// NewDerivedKeyProvider validates the master secret and returns a provider.
func NewDerivedKeyProvider(masterKey string) (*DerivedKeyProvider, error) {
	if len(masterKey) < MinMasterKeyLength {
		return nil, ErrWeakMasterKey
	}
	return &DerivedKeyProvider{
		master:   []byte(masterKey),
		versions: make(map[string]int),
	}, nil
}

func (p *DerivedKeyProvider) currentVersion(tenantID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.versions[tenantID]
	if !ok {
		v = 1
		p.versions[tenantID] = v
	}
	return v
}

// CurrentKEK derives the tenant's key at its current version.
func (p *DerivedKeyProvider) CurrentKEK(tenantID string) (KEK, error) {
	version := p.currentVersion(tenantID)
	key, err := p.derive(tenantID, version)
	if err != nil {
		return KEK{}, err
	}
	return KEK{Key: key, Version: version}, nil
}

// KEKByVersion derives the tenant's key at a historical version. Versions
// above the tenant's current counter are rejected: they cannot have been
// used to encrypt anything yet.
func (p *DerivedKeyProvider) KEKByVersion(tenantID string, version int) ([]byte, error) {
	if version < 1 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKeyVersion, version)
	}
	if version > p.currentVersion(tenantID) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKeyVersion, version)
	}
	return p.derive(tenantID, version)
}

// RotateKEK increments the tenant's version counter. Previously derived
// keys remain reachable through KEKByVersion.
func (p *DerivedKeyProvider) RotateKEK(tenantID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.versions[tenantID]
	if !ok {
		v = 1
	}
	v++
	p.versions[tenantID] = v
	return v, nil
}

// derive stretches the master secret into a 32-byte key bound to tenant
// and version via the HKDF info parameter.
func (p *DerivedKeyProvider) derive(tenantID string, version int) ([]byte, error) {
	info := fmt.Sprintf("auditcore|kek|%s|v%d", tenantID, version)
	r := hkdf.New(sha256.New, p.master, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key for %s v%d: %w", tenantID, version, err)
	}
	return key, nil
}
