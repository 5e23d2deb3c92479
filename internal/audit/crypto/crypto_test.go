package crypto

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMasterKey = "unit-test-master-key-0123456789abcdef"

func newProvider(t *testing.T) *DerivedKeyProvider {
	t.Helper()
	p, err := NewDerivedKeyProvider(testMasterKey)
	require.NoError(t, err)
	return p
}

func newService(t *testing.T) (*ColumnService, *DerivedKeyProvider) {
	t.Helper()
	p := newProvider(t)
	s, err := NewColumnService(p, []string{"details", "actor_display_name"})
	require.NoError(t, err)
	return s, p
}

func strptr(s string) *string { return &s }

func TestNewDerivedKeyProvider_RejectsWeakMasterKey(t *testing.T) {
	_, err := NewDerivedKeyProvider("too-short")
	assert.ErrorIs(t, err, ErrWeakMasterKey)
}

func TestKeyProvider_TenantsNeverShareKeys(t *testing.T) {
	p := newProvider(t)

	a, err := p.CurrentKEK("t-1")
	require.NoError(t, err)
	b, err := p.CurrentKEK("t-2")
	require.NoError(t, err)

	assert.Len(t, a.Key, 32)
	assert.NotEqual(t, a.Key, b.Key)
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, 1, b.Version)
}

func TestKeyProvider_RotationIsMonotonicAndIsolated(t *testing.T) {
	p := newProvider(t)

	before, err := p.CurrentKEK("t-1")
	require.NoError(t, err)
	otherBefore, err := p.CurrentKEK("t-2")
	require.NoError(t, err)

	v, err := p.RotateKEK("t-1")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	after, err := p.CurrentKEK("t-1")
	require.NoError(t, err)
	assert.Equal(t, 2, after.Version)
	assert.NotEqual(t, before.Key, after.Key)

	// Old version remains derivable for stored ciphertexts.
	old, err := p.KEKByVersion("t-1", 1)
	require.NoError(t, err)
	assert.Equal(t, before.Key, old)

	// Other tenants are untouched.
	otherAfter, err := p.CurrentKEK("t-2")
	require.NoError(t, err)
	assert.Equal(t, otherBefore.Key, otherAfter.Key)
}

func TestKeyProvider_UnknownVersion(t *testing.T) {
	p := newProvider(t)
	_, err := p.KEKByVersion("t-1", 7)
	assert.ErrorIs(t, err, ErrUnknownKeyVersion)
	_, err = p.KEKByVersion("t-1", 0)
	assert.ErrorIs(t, err, ErrUnknownKeyVersion)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	s, _ := newService(t)

	cases := map[string]string{
		"simple":  "hello world",
		"empty":   "",
		"unicode": "ünïcødé ✓ 日本語 🎉",
		"json":    `{"k":"v","nested":{"a":[1,2,3]}}`,
		"large":   strings.Repeat("payload-", 4096),
	}

	for name, plaintext := range cases {
		t.Run(name, func(t *testing.T) {
			ct, err := s.Encrypt("t-1", strptr(plaintext))
			require.NoError(t, err)
			require.NotNil(t, ct)
			assert.NotEqual(t, plaintext, *ct)

			pt, err := s.Decrypt("t-1", ct)
			require.NoError(t, err)
			require.NotNil(t, pt)
			assert.Equal(t, plaintext, *pt)
		})
	}
}

func TestEncrypt_NilPassthrough(t *testing.T) {
	s, _ := newService(t)

	ct, err := s.Encrypt("t-1", nil)
	require.NoError(t, err)
	assert.Nil(t, ct)

	pt, err := s.Decrypt("t-1", nil)
	require.NoError(t, err)
	assert.Nil(t, pt)
}

func TestEncrypt_NonceUniqueness(t *testing.T) {
	s, _ := newService(t)

	a, err := s.Encrypt("t-1", strptr("same value"))
	require.NoError(t, err)
	b, err := s.Encrypt("t-1", strptr("same value"))
	require.NoError(t, err)

	assert.NotEqual(t, *a, *b, "random nonce must make repeated encryptions differ")
}

func TestEncrypt_PayloadShape(t *testing.T) {
	s, _ := newService(t)

	ct, err := s.Encrypt("t-1", strptr("check the wire format"))
	require.NoError(t, err)

	var payload struct {
		C string `json:"c"`
		N string `json:"iv"`
		T string `json:"t"`
		V int    `json:"v"`
	}
	require.NoError(t, json.Unmarshal([]byte(*ct), &payload))
	assert.NotEmpty(t, payload.C)
	assert.NotEmpty(t, payload.N)
	assert.NotEmpty(t, payload.T)
	assert.Equal(t, 1, payload.V)
}

func TestDecrypt_WrongTenantFailsClosed(t *testing.T) {
	s, _ := newService(t)

	ct, err := s.Encrypt("t-a", strptr("tenant a's secret"))
	require.NoError(t, err)

	pt, err := s.Decrypt("t-b", ct)
	assert.Error(t, err, "wrong tenant's key must never silently return plaintext")
	assert.Nil(t, pt)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	s, _ := newService(t)

	ct, err := s.Encrypt("t-1", strptr("integrity matters"))
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(*ct), &payload))
	payload["t"] = "AAAAAAAAAAAAAAAAAAAAAA=="
	tampered, err := json.Marshal(payload)
	require.NoError(t, err)

	_, err = s.Decrypt("t-1", strptr(string(tampered)))
	assert.Error(t, err)
}

func TestDecrypt_LegacyPlaintextPassthrough(t *testing.T) {
	s, _ := newService(t)

	t.Run("plain string", func(t *testing.T) {
		pt, err := s.Decrypt("t-1", strptr("written before encryption"))
		require.NoError(t, err)
		assert.Equal(t, "written before encryption", *pt)
	})

	t.Run("unrelated JSON object", func(t *testing.T) {
		legacy := `{"status":"ok","count":2}`
		pt, err := s.Decrypt("t-1", strptr(legacy))
		require.NoError(t, err)
		assert.Equal(t, legacy, *pt)
	})
}

func TestReEncrypt_AfterRotation(t *testing.T) {
	s, p := newService(t)

	old, err := s.Encrypt("t-1", strptr("rotate me"))
	require.NoError(t, err)

	v, err := p.RotateKEK("t-1")
	require.NoError(t, err)
	require.Equal(t, 2, v)

	renewed, err := s.ReEncrypt("t-1", *old)
	require.NoError(t, err)

	var payload struct {
		V int `json:"v"`
	}
	require.NoError(t, json.Unmarshal([]byte(renewed), &payload))
	assert.Equal(t, 2, payload.V)

	pt, err := s.Decrypt("t-1", &renewed)
	require.NoError(t, err)
	assert.Equal(t, "rotate me", *pt)

	// Pre-rotation ciphertext stays readable through its version tag.
	oldPt, err := s.Decrypt("t-1", old)
	require.NoError(t, err)
	assert.Equal(t, "rotate me", *oldPt)
}

func TestReEncrypt_LegacyPlaintext(t *testing.T) {
	s, _ := newService(t)

	renewed, err := s.ReEncrypt("t-1", "never encrypted")
	require.NoError(t, err)

	pt, err := s.Decrypt("t-1", &renewed)
	require.NoError(t, err)
	assert.Equal(t, "never encrypted", *pt)
}

func TestEncryptColumns(t *testing.T) {
	s, _ := newService(t)

	values := map[string]*string{
		"details":            strptr(`{"note":"x"}`),
		"actor_display_name": strptr("Pat"),
		"event_type":         strptr("user.updated"),
		"nullable":           nil,
	}

	encrypted, err := s.EncryptColumns("t-1", values)
	require.NoError(t, err)

	assert.NotEqual(t, *values["details"], *encrypted["details"])
	assert.NotEqual(t, *values["actor_display_name"], *encrypted["actor_display_name"])
	assert.Equal(t, *values["event_type"], *encrypted["event_type"], "non-designated columns pass through")
	assert.Nil(t, encrypted["nullable"])

	decrypted, err := s.DecryptColumns("t-1", encrypted)
	require.NoError(t, err)
	assert.Equal(t, *values["details"], *decrypted["details"])
	assert.Equal(t, *values["actor_display_name"], *decrypted["actor_display_name"])
}
