// Package auth provides the authentication primitives of the membership backend.
// Members sign in through OIDC and receive a session JWT; integrations (finance
// imports, CRM sync) use long-lived API keys stored as bcrypt hashes. The
// request-time checks live in internal/middleware/auth.go.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// apiKeyEntropy is the number of random bytes behind every key
	apiKeyEntropy = 32

	// DisplayPrefixLength is how much of a key is stored in clear. It is shown
	// in the key list and narrows the bcrypt candidates at login.
	DisplayPrefixLength = 10

	BcryptCost = 12
)

// IssuedKey is a freshly minted API key. Secret is returned to the caller once
// and never stored.
type IssuedKey struct {
	Secret        string
	Hash          string
	DisplayPrefix string
}

// IssueAPIKey mints a key of the form "<prefix>_<random>". A trailing
// underscore on prefix is tolerated.
func IssueAPIKey(prefix string) (*IssuedKey, error) {
	raw := make([]byte, apiKeyEntropy)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	secret := strings.TrimSuffix(prefix, "_") + "_" + base64.RawURLEncoding.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash API key: %w", err)
	}

	return &IssuedKey{
		Secret:        secret,
		Hash:          string(hash),
		DisplayPrefix: LookupPrefix(secret),
	}, nil
}

// LookupPrefix returns the clear-text part of a presented key used to find its
// stored candidates.
func LookupPrefix(secret string) string {
	if len(secret) > DisplayPrefixLength {
		return secret[:DisplayPrefixLength]
	}
	return secret
}

// VerifyAPIKey reports whether secret matches a stored bcrypt hash.
func VerifyAPIKey(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
