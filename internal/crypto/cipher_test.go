package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	er "github.com/credstack/credstack/internal/errors"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	cipher, err := NewCipher(&Config{
		Secret: "unit-test-secret",
		Salt:   "unit-test-salt",
	})
	require.NoError(t, err)
	return cipher
}

func TestCipher_RoundTrip(t *testing.T) {
	cipher := newTestCipher(t)

	for _, plaintext := range []string{"", "hunter2", "user+otp@gmail.com", "héllo wörld"} {
		encrypted, err := cipher.Encrypt(plaintext)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(encrypted, "v1:"))

		decrypted, err := cipher.Decrypt(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestCipher_FreshNonceEachCall(t *testing.T) {
	cipher := newTestCipher(t)

	first, err := cipher.Encrypt("same input")
	require.NoError(t, err)
	second, err := cipher.Encrypt("same input")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestCipher_TamperedCiphertext(t *testing.T) {
	cipher := newTestCipher(t)

	encrypted, err := cipher.Encrypt("secret value")
	require.NoError(t, err)

	parts := strings.SplitN(encrypted, ":", 3)
	require.Len(t, parts, 3)

	// flip one hex digit in the ciphertext segment
	payload := []byte(parts[2])
	if payload[0] == 'a' {
		payload[0] = 'b'
	} else {
		payload[0] = 'a'
	}
	tampered := parts[0] + ":" + parts[1] + ":" + string(payload)

	_, err = cipher.Decrypt(tampered)
	assert.ErrorIs(t, err, er.ErrDecryptionFailed)
}

func TestCipher_RejectsUnknownVersion(t *testing.T) {
	cipher := newTestCipher(t)

	encrypted, err := cipher.Encrypt("secret value")
	require.NoError(t, err)

	unknownVersion := "v9" + strings.TrimPrefix(encrypted, "v1")
	_, err = cipher.Decrypt(unknownVersion)
	assert.ErrorIs(t, err, er.ErrDecryptionFailed)
}

func TestCipher_RejectsMalformedInput(t *testing.T) {
	cipher := newTestCipher(t)

	for _, input := range []string{"", "plaintext", "v1:onlyone", "v1:zz:zz", "v1::"} {
		_, err := cipher.Decrypt(input)
		assert.ErrorIs(t, err, er.ErrDecryptionFailed, "input %q", input)
	}
}

func TestCipher_WrongKeyFailsClosed(t *testing.T) {
	cipher := newTestCipher(t)
	other, err := NewCipher(&Config{Secret: "different-secret", Salt: "unit-test-salt"})
	require.NoError(t, err)

	encrypted, err := cipher.Encrypt("secret value")
	require.NoError(t, err)

	_, err = other.Decrypt(encrypted)
	assert.ErrorIs(t, err, er.ErrDecryptionFailed)
}

func TestIsEncrypted(t *testing.T) {
	cipher := newTestCipher(t)

	encrypted, err := cipher.Encrypt("value")
	require.NoError(t, err)

	assert.True(t, IsEncrypted(encrypted))
	assert.False(t, IsEncrypted("value"))
	assert.False(t, IsEncrypted(""))
}
