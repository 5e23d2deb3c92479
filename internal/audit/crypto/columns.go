package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	platformstrings "auditcore/pkg/platform/strings"
)

const gcmTagSize = 16

// encryptedPayload is the stored wire format for an encrypted column
// value. The JSON shape is a compatibility contract: stored rows must
// remain decryptable across deployments, so field names never change.
type encryptedPayload struct {
	Ciphertext string `json:"c"`
	Nonce      string `json:"iv"`
	Tag        string `json:"t"`
	Version    int    `json:"v"`
}

// ColumnService encrypts and decrypts designated sensitive columns with
// AES-256-GCM under tenant-scoped keys.
//
// Encrypt is strict; Decrypt is lenient toward values that do not parse as
// an encrypted payload (legacy plaintext written before encryption was
// enabled passes through unchanged) but strict about authentication:
// tampered payloads and wrong-tenant keys always surface an error rather
// than returning garbage.
type ColumnService struct {
	keys    KeyProvider
	columns []string
}

// NewColumnService builds a service over the given key provider. columns
// is the fixed set of column names handled by EncryptColumns and
// DecryptColumns; names are lowercased and deduplicated.
func NewColumnService(keys KeyProvider, columns []string) (*ColumnService, error) {
	if keys == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	return &ColumnService{keys: keys, columns: platformstrings.DedupeAndTrimLower(columns)}, nil
}

// Encrypt encrypts plaintext under the tenant's current key. A nil
// plaintext maps to nil ciphertext so nullable columns stay well-defined.
// The nonce is random per call, so encrypting the same value twice yields
// different ciphertexts.
func (s *ColumnService) Encrypt(tenantID string, plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}

	kek, err := s.keys.CurrentKEK(tenantID)
	if err != nil {
		return nil, fmt.Errorf("get current key for %s: %w", tenantID, err)
	}

	gcm, err := newGCM(kek.Key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(*plaintext), nil)
	// gcm.Seal appends the tag; store it as its own field.
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	raw, err := json.Marshal(encryptedPayload{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Tag:        base64.StdEncoding.EncodeToString(tag),
		Version:    kek.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal encrypted payload: %w", err)
	}

	out := string(raw)
	return &out, nil
}

// Decrypt reverses Encrypt. Stored values that do not look like an
// encrypted payload are returned unchanged; authentic payloads that fail
// authentication return an error.
func (s *ColumnService) Decrypt(tenantID string, stored *string) (*string, error) {
	if stored == nil {
		return nil, nil
	}

	payload, ok := parsePayload(*stored)
	if !ok {
		// Legacy plaintext written before encryption was enabled.
		return stored, nil
	}

	plaintext, err := s.open(tenantID, payload)
	if err != nil {
		return nil, err
	}
	return &plaintext, nil
}

// ReEncrypt decrypts stored with the key version recorded in the payload
// and re-encrypts with the tenant's current key. Used by background
// migration after a rotation; legacy plaintext is encrypted as-is.
func (s *ColumnService) ReEncrypt(tenantID string, stored string) (string, error) {
	plaintext := stored
	if payload, ok := parsePayload(stored); ok {
		pt, err := s.open(tenantID, payload)
		if err != nil {
			return "", err
		}
		plaintext = pt
	}

	out, err := s.Encrypt(tenantID, &plaintext)
	if err != nil {
		return "", err
	}
	return *out, nil
}

// EncryptColumns encrypts the configured columns present in values,
// leaving other keys untouched.
func (s *ColumnService) EncryptColumns(tenantID string, values map[string]*string) (map[string]*string, error) {
	return s.mapColumns(tenantID, values, s.Encrypt)
}

// DecryptColumns decrypts the configured columns present in values.
func (s *ColumnService) DecryptColumns(tenantID string, values map[string]*string) (map[string]*string, error) {
	return s.mapColumns(tenantID, values, s.Decrypt)
}

func (s *ColumnService) mapColumns(tenantID string, values map[string]*string, fn func(string, *string) (*string, error)) (map[string]*string, error) {
	out := make(map[string]*string, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, col := range s.columns {
		v, ok := values[col]
		if !ok {
			continue
		}
		mapped, err := fn(tenantID, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		out[col] = mapped
	}
	return out, nil
}

func (s *ColumnService) open(tenantID string, payload encryptedPayload) (string, error) {
	key, err := s.keys.KEKByVersion(tenantID, payload.Version)
	if err != nil {
		return "", fmt.Errorf("get key v%d for %s: %w", payload.Version, tenantID, err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	ct, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(payload.Tag)
	if err != nil {
		return "", fmt.Errorf("decode tag: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid nonce length %d", len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		// Tampered payload or wrong tenant's key. Never return the
		// garbage GCM would otherwise hand back.
		return "", fmt.Errorf("decrypt for %s: authentication failed: %w", tenantID, err)
	}
	return string(plaintext), nil
}

// parsePayload reports whether stored is a well-formed encrypted payload.
// Anything else is treated as legacy plaintext by callers.
func parsePayload(stored string) (encryptedPayload, bool) {
	var payload encryptedPayload
	if err := json.Unmarshal([]byte(stored), &payload); err != nil {
		return encryptedPayload{}, false
	}
	// Ciphertext may legitimately be empty (empty-string plaintext), so it
	// is not part of the shape check.
	if payload.Nonce == "" || payload.Tag == "" || payload.Version < 1 {
		return encryptedPayload{}, false
	}
	return payload, true
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
