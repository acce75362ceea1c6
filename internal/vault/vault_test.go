package vault

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-very-long-test-secret-key-for-encryption"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(testSecret)
	require.NoError(t, err)
	return v
}

func TestVault_RoundTrip(t *testing.T) {
	v := newTestVault(t)

	for _, plaintext := range []string{"EAAG-token", "héllo wörld", "x", string(make([]byte, 4096))} {
		for _, class := range []KeyClass{KeyClassMessaging, KeyClassMail} {
			blob, err := v.Encrypt(plaintext, class)
			require.NoError(t, err)
			assert.NotEqual(t, plaintext, blob)

			got, err := v.Decrypt(blob, class)
			require.NoError(t, err)
			assert.Equal(t, plaintext, got)
		}
	}
}

func TestVault_EmptyPassesThrough(t *testing.T) {
	v := newTestVault(t)

	blob, err := v.Encrypt("", KeyClassMessaging)
	require.NoError(t, err)
	assert.Empty(t, blob)

	plain, err := v.Decrypt("", KeyClassMessaging)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestVault_FreshIVPerCall(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Encrypt("same", KeyClassMessaging)
	require.NoError(t, err)
	b, err := v.Encrypt("same", KeyClassMessaging)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVault_BlobLayout(t *testing.T) {
	v := newTestVault(t)

	blob, err := v.Encrypt("abc", KeyClassMessaging)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	assert.Len(t, raw, 16+12+16+3)
	assert.Equal(t, classSalt(KeyClassMessaging), raw[:16])
}

func TestVault_WrongClassFails(t *testing.T) {
	v := newTestVault(t)

	blob, err := v.Encrypt("secret", KeyClassMessaging)
	require.NoError(t, err)

	_, err = v.Decrypt(blob, KeyClassMail)
	assert.ErrorIs(t, err, ErrKeyClassMismatch)
}

func TestVault_WrongSecretFails(t *testing.T) {
	v := newTestVault(t)
	other, err := New("another-very-long-secret-for-the-vault-tests")
	require.NoError(t, err)

	blob, err := v.Encrypt("secret", KeyClassMessaging)
	require.NoError(t, err)

	_, err = other.Decrypt(blob, KeyClassMessaging)
	assert.Error(t, err)
}

func TestVault_TamperFails(t *testing.T) {
	v := newTestVault(t)

	blob, err := v.Encrypt("secret-token", KeyClassMessaging)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	for _, idx := range []int{20, 30, len(raw) - 1} {
		mutated := append([]byte(nil), raw...)
		mutated[idx] ^= 0x01
		_, err := v.Decrypt(base64.StdEncoding.EncodeToString(mutated), KeyClassMessaging)
		assert.Error(t, err, "byte %d", idx)
	}
}

func TestVault_MalformedInput(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Decrypt("not-base64!!", KeyClassMessaging)
	assert.ErrorIs(t, err, ErrMalformedBlob)

	_, err = v.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")), KeyClassMessaging)
	assert.ErrorIs(t, err, ErrMalformedBlob)
}

func TestVault_UnknownClass(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Encrypt("x", KeyClass("billing"))
	assert.ErrorIs(t, err, ErrUnknownKeyClass)
}

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := New("short")
	assert.Error(t, err)
}
