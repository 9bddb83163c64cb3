package transfer

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
)

const tokenBytes = 32

// NewToken returns a fresh URL-safe capability token and its storage hash.
// Only the hash is persisted; the raw token travels in the invitation email.
func NewToken() (token, hash string, err error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate transfer token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashToken(token), nil
}

// HashToken returns the hex SHA-256 digest used to look a token up.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// AcceptURL builds the emailed acceptance link for a token.
func AcceptURL(siteURL, token string) string {
	q := url.Values{}
	q.Set("action", "accept-transfer")
	q.Set("token", token)
	return siteURL + "/auth?" + q.Encode()
}
