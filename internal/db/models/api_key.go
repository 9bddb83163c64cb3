// Package models defines the database model types for the membership backend.
// Models are plain data; queries live in repositories and workflow rules in services.
package models

import "time"

// APIKey represents an API key for authentication
type APIKey struct {
	ID         string
	UserID     string
	Name       string     // Friendly name (e.g., "Finance import")
	KeyHash    string     // Bcrypt hash of the full key
	KeyPrefix  string     // First 10 chars for lookup and display (e.g., "mbr_abc123")
	Scopes     []string   // JSONB array
	ExpiresAt  *time.Time // Optional expiration
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// IsExpired reports whether the key has an expiry in the past
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
