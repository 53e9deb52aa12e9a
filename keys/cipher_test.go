//go:build test

package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewCipher(t *testing.T) {
	_, err := NewCipher("short")
	require.ErrorIs(t, err, ErrSecretTooShort)

	_, err = NewCipher(testSecret)
	require.NoError(t, err)
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher(testSecret)
	require.NoError(t, err)

	for _, plaintext := range []string{
		"",
		"hello",
		strings.Repeat("a", 64),
		"7f3c8a0b9d2e4f6a8c1b3d5e7f9a0b2c4d6e8f0a1b3c5d7e9f1a3b5c7d9e0f2a",
	} {
		ct, err := c.Encrypt(plaintext)
		require.NoError(t, err)

		got, err := c.Decrypt(ct)
		require.NoError(t, err)
		require.Equal(t, plaintext, got)
	}
}

func TestCipherNonceUniqueness(t *testing.T) {
	c, err := NewCipher(testSecret)
	require.NoError(t, err)

	a, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestCipherRejectsTampering(t *testing.T) {
	c, err := NewCipher(testSecret)
	require.NoError(t, err)

	ct, err := c.Encrypt("sensitive")
	require.NoError(t, err)

	// Flip a character in the base64 body.
	tampered := []byte(ct)
	if tampered[len(tampered)-5] == 'A' {
		tampered[len(tampered)-5] = 'B'
	} else {
		tampered[len(tampered)-5] = 'A'
	}
	_, err = c.Decrypt(string(tampered))
	require.ErrorIs(t, err, ErrCiphertextInvalid)

	_, err = c.Decrypt("not base64 at all!!!")
	require.ErrorIs(t, err, ErrCiphertextInvalid)

	_, err = c.Decrypt("c2hvcnQ=")
	require.ErrorIs(t, err, ErrCiphertextInvalid)
}

func TestCipherWrongKey(t *testing.T) {
	a, err := NewCipher(testSecret)
	require.NoError(t, err)
	b, err := NewCipher(strings.Repeat("x", 32))
	require.NoError(t, err)

	ct, err := a.Encrypt("sensitive")
	require.NoError(t, err)

	_, err = b.Decrypt(ct)
	require.ErrorIs(t, err, ErrCiphertextInvalid)
}
