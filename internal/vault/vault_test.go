package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testVault(t *testing.T) *CredentialVault {
	t.Helper()
	v, err := New(testKeyHex)
	require.NoError(t, err)
	return v
}

func TestNew_KeyValidation(t *testing.T) {
	tests := []struct {
		name   string
		keyHex string
	}{
		{"empty", ""},
		{"not hex", strings.Repeat("zz", 32)},
		{"too short", "deadbeef"},
		{"too long", strings.Repeat("ab", 33)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.keyHex)
			assert.Error(t, err)
		})
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v := testVault(t)

	for _, plaintext := range []string{
		"MK-secret-token",
		"",
		"exactly sixteen!",
		strings.Repeat("long-credential-", 20),
	} {
		enc, err := v.Encrypt(plaintext)
		require.NoError(t, err)

		dec, err := v.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plaintext, dec)
	}
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	v := testVault(t)

	a, err := v.Encrypt("same-plaintext")
	require.NoError(t, err)
	b, err := v.Encrypt("same-plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEncrypt_Format(t *testing.T) {
	v := testVault(t)

	enc, err := v.Encrypt("token")
	require.NoError(t, err)

	ivHex, ctHex, ok := strings.Cut(enc, ":")
	require.True(t, ok)
	assert.Len(t, ivHex, 32) // 16-byte IV
	assert.NotEmpty(t, ctHex)
}

func TestDecrypt_InvalidFormat(t *testing.T) {
	v := testVault(t)

	for _, in := range []string{
		"invalid-format",
		"",
		":",
		"deadbeef:",
		":deadbeef",
		"nothex:deadbeefdeadbeefdeadbeefdeadbeef",
		"00112233445566778899aabbccddeeff:nothex",
	} {
		_, err := v.Decrypt(in)
		assert.ErrorIs(t, err, ErrInvalidFormat, "input %q", in)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	v := testVault(t)
	enc, err := v.Encrypt("secret")
	require.NoError(t, err)

	other, err := New(strings.Repeat("ff", 32))
	require.NoError(t, err)

	// CBC with the wrong key yields garbage; padding check rejects it in
	// almost all cases. Either way it must not return the plaintext.
	dec, err := other.Decrypt(enc)
	if err == nil {
		assert.NotEqual(t, "secret", dec)
	}
}
