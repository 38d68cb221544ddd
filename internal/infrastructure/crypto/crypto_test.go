package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "01234567890123456789012345678901"

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)
	return enc
}

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "32 byte key", key: testKey},
		{name: "short key", key: "too-short", wantErr: true},
		{name: "empty key", key: "", wantErr: true},
		{name: "33 byte key", key: testKey + "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				assert.Nil(t, enc)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, enc)
		})
	}
}

func TestEncryptor_Roundtrip(t *testing.T) {
	enc := newTestEncryptor(t)

	credentials := map[string]string{
		"sandbox token":    "access-sandbox-5cd6e1b1-1b5b-459d-9284-366e2da89755",
		"production token": "access-production-0f3c9a7e-7d21-4c55-a1e8-2b9c3d4e5f60",
		"manual sentinel":  "manual",
		"unicode":          "Crédit Agricole compte courant ☕",
		"long":             strings.Repeat("credential-block ", 1000),
	}

	for name, plaintext := range credentials {
		t.Run(name, func(t *testing.T) {
			sealed, err := enc.Encrypt(plaintext)
			require.NoError(t, err)
			assert.NotContains(t, sealed, plaintext)

			opened, err := enc.Decrypt(sealed)
			require.NoError(t, err)
			assert.Equal(t, plaintext, opened)
		})
	}
}

func TestEncryptor_EmptyPassesThrough(t *testing.T) {
	enc := newTestEncryptor(t)

	sealed, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	opened, err := enc.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, opened)
}

func TestEncryptor_FreshNoncePerCall(t *testing.T) {
	enc := newTestEncryptor(t)

	a, err := enc.Encrypt("same credential")
	require.NoError(t, err)
	b, err := enc.Encrypt("same credential")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEncryptor_RejectsBadCiphertext(t *testing.T) {
	enc := newTestEncryptor(t)

	sealed, err := enc.Encrypt("access-production-token")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	other, err := NewEncryptor("98765432109876543210987654321098")
	require.NoError(t, err)
	otherSealed, err := other.Encrypt("rotated key check")
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{name: "tampered", input: base64.StdEncoding.EncodeToString(raw)},
		{name: "invalid base64", input: "not-valid-base64!!!"},
		{name: "shorter than nonce", input: "YQ=="},
		{name: "sealed under another key", input: otherSealed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Decrypt(tt.input)
			assert.Error(t, err)
		})
	}
}
