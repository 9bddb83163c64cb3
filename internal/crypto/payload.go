// Package crypto seals values the backend keeps at rest but must later read back.
// The notification outbox is the main user: payloads carry raw transfer tokens and
// contact details, so they are sealed before insert and opened by the dispatcher
// right before rendering.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize = 32

	// sealedPrefix tags the envelope format so the layout can change without
	// guessing at old rows.
	sealedPrefix = "v1."

	minSaltLen       = 16
	defaultIterCount = 210000
)

var (
	ErrInvalidKey     = errors.New("crypto: key must be 32 bytes")
	ErrSaltTooShort   = errors.New("crypto: salt must be at least 16 bytes")
	ErrMalformed      = errors.New("crypto: sealed value is malformed")
	ErrAuthentication = errors.New("crypto: sealed value failed authentication")
)

// PayloadCipher is an AES-256-GCM sealer. It is safe for concurrent use.
type PayloadCipher struct {
	aead cipher.AEAD
}

// NewPayloadCipher builds a cipher from a raw 32-byte key.
func NewPayloadCipher(key []byte) (*PayloadCipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &PayloadCipher{aead: aead}, nil
}

// DerivePayloadCipher stretches a passphrase with PBKDF2-SHA256. An iteration
// count of zero selects the default.
func DerivePayloadCipher(passphrase string, salt []byte, iterations int) (*PayloadCipher, error) {
	if len(salt) < minSaltLen {
		return nil, ErrSaltTooShort
	}
	if iterations <= 0 {
		iterations = defaultIterCount
	}
	return NewPayloadCipher(pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New))
}

// Seal returns "v1." followed by base64url(nonce || ciphertext). Empty input
// seals to the empty string.
func (c *PayloadCipher) Seal(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(c.aead.Seal(nonce, nonce, plaintext, nil)), nil
}

// Open reverses Seal.
func (c *PayloadCipher) Open(sealed string) ([]byte, error) {
	if sealed == "" {
		return nil, nil
	}
	body, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return nil, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil || len(raw) < c.aead.NonceSize() {
		return nil, ErrMalformed
	}
	n := c.aead.NonceSize()
	plaintext, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// SealJSON marshals v and seals the result.
func (c *PayloadCipher) SealJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.Seal(raw)
}

// OpenJSON opens a value produced by SealJSON into v.
func (c *PayloadCipher) OpenJSON(sealed string, v interface{}) error {
	raw, err := c.Open(sealed)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}
