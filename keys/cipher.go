// Package keys manages custodied nostr signing keys: encryption at rest,
// key-file loading with hot reload, and transient decryption for the
// bunker engine.
package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// gcmNonceSize is the AES-GCM nonce length in bytes.
	gcmNonceSize = 12

	// gcmTagSize is the AES-GCM authentication tag length in bytes.
	gcmTagSize = 16

	// MinSecretLen is the minimum length of the at-rest encryption secret.
	MinSecretLen = 32
)

var (
	// ErrSecretTooShort indicates an at-rest encryption secret shorter than
	// MinSecretLen characters.
	ErrSecretTooShort = errors.New("encryption secret must be at least 32 characters")

	// ErrCiphertextInvalid indicates a ciphertext that could not be decoded
	// or authenticated.
	ErrCiphertextInvalid = errors.New("invalid ciphertext")
)

// Cipher encrypts and decrypts key material at rest using AES-256-GCM.
// The AES key is the SHA-256 digest of the configured secret. Ciphertexts
// are base64(nonce || tag || data), so values written by earlier
// deployments remain readable.
type Cipher struct {
	key [sha256.Size]byte
}

// NewCipher derives a Cipher from the configured secret.
func NewCipher(secret string) (*Cipher, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}
	return &Cipher{key: sha256.Sum256([]byte(secret))}, nil
}

// Encrypt seals plaintext and returns the base64 envelope.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	aead, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	// Seal appends ciphertext||tag; the envelope format is nonce||tag||data.
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	data, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	out := make([]byte, 0, gcmNonceSize+gcmTagSize+len(data))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, data...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a base64 envelope produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}
	if len(raw) < gcmNonceSize+gcmTagSize {
		return "", ErrCiphertextInvalid
	}

	aead, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := raw[:gcmNonceSize]
	tag := raw[gcmNonceSize : gcmNonceSize+gcmTagSize]
	data := raw[gcmNonceSize+gcmTagSize:]

	sealed := make([]byte, 0, len(data)+len(tag))
	sealed = append(sealed, data...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrCiphertextInvalid
	}
	return string(plaintext), nil
}

func (c *Cipher) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
