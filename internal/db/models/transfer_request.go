// Package models - transfer_request.go defines the TransferRequest model for handing the
// primary-contact role of an organization to another person.
package models

import (
	"time"

	"github.com/consortium-members/membership-backend/internal/transfer"
)

// TransferRequest is one attempt to change an organization's primary contact.
// Rows are never deleted; terminal records remain as history.
type TransferRequest struct {
	ID               string          `json:"id"`
	OrganizationID   string          `json:"organization_id"`
	RequestedBy      string          `json:"requested_by"`
	CurrentContactID string          `json:"current_contact_id"`
	NewContactID     *string         `json:"new_contact_id"`
	NewContactEmail  string          `json:"new_contact_email"`
	TokenHash        string          `json:"-"`
	Status           transfer.Status `json:"status"`
	RejectionReason  *string         `json:"rejection_reason,omitempty"`
	ExpiresAt        time.Time       `json:"expires_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
	Version          int             `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsExpired reports whether the request is past its acceptance horizon
func (t *TransferRequest) IsExpired(now time.Time) bool {
	return transfer.IsExpired(t.ExpiresAt, now)
}

// InvolvesProfile reports whether profileID is the requester, the current contact or the resolved new contact
func (t *TransferRequest) InvolvesProfile(profileID string) bool {
	if profileID == "" {
		return false
	}
	if t.RequestedBy == profileID || t.CurrentContactID == profileID {
		return true
	}
	return t.NewContactID != nil && *t.NewContactID == profileID
}
