// Package models - organization.go defines the Organization model: a member institution
// of the consortium, its registration status and the profile currently acting as its
// primary contact.
package models

import "time"

// OrganizationStatus is the registration state of an organization
type OrganizationStatus string

const (
	OrganizationPending  OrganizationStatus = "pending"
	OrganizationApproved OrganizationStatus = "approved"
	OrganizationRejected OrganizationStatus = "rejected"
)

// Organization represents a member institution
type Organization struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Slug            string             `json:"slug"` // URL-safe, derived from Name
	ContactPersonID *string            `json:"contact_person_id"`
	Status          OrganizationStatus `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// IsContact reports whether profileID is the organization's current primary contact
func (o *Organization) IsContact(profileID string) bool {
	return o.ContactPersonID != nil && *o.ContactPersonID == profileID
}
