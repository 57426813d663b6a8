package vault

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVault_RoundTrip(t *testing.T) {
	v := New("0123456789abcdef0123456789abcdef") // exactly 32 bytes

	for _, plaintext := range []string{"a", "access-token-123", "çãé unicode ñ", strings.Repeat("x", 4096)} {
		encoded, err := v.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, encoded)

		// Layout: IV (12) || tag (16) || ciphertext, hex encoded.
		raw, err := hex.DecodeString(encoded)
		require.NoError(t, err)
		assert.Equal(t, 12+16+len(plaintext), len(raw))

		assert.Equal(t, plaintext, v.Decrypt(encoded))
	}
}

func TestVault_ShortSecretIsHashed(t *testing.T) {
	v := New("short-secret")
	encoded, err := v.Encrypt("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Decrypt(encoded))
}

func TestVault_DecryptGarbageReturnsEmpty(t *testing.T) {
	v := New("0123456789abcdef0123456789abcdef")

	assert.Equal(t, "", v.Decrypt("not-hex-at-all"))
	assert.Equal(t, "", v.Decrypt("deadbeef")) // too short
	assert.Equal(t, "", v.Decrypt(strings.Repeat("ab", 64)))

	// Wrong key must fail closed, not panic or return garbage.
	other := New("ffffffffffffffffffffffffffffffff")
	encoded, err := other.Encrypt("secret")
	require.NoError(t, err)
	assert.Equal(t, "", v.Decrypt(encoded))
}

func TestVault_EncryptIsRandomized(t *testing.T) {
	v := New("0123456789abcdef0123456789abcdef")
	a, err := v.Encrypt("same input")
	require.NoError(t, err)
	b, err := v.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "random IV per call must change the ciphertext")
}
