// Package models - profile.go defines the Profile model for member accounts.
package models

import "time"

// Profile represents a person with an account
type Profile struct {
	ID      string  `json:"id"`
	Email   string  `json:"email"`
	Name    string  `json:"name"`
	OIDCSub *string `json:"-"` // OIDC subject identifier (unique per provider)
	// OrganizationName is denormalized from the organization the profile is contact for
	OrganizationName *string   `json:"organization_name,omitempty"`
	IsAdmin          bool      `json:"is_admin"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
