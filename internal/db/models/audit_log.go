// Package models - audit_log.go defines the AuditLog model for recording who did what to
// which resource. The analytics datacube is aggregated from these rows.
package models

import "time"

// AuditLog represents an audit log entry for tracking user actions
type AuditLog struct {
	ID             string                 `json:"id"`
	UserID         *string                `json:"user_id"` // Nullable for system actions
	OrganizationID *string                `json:"organization_id"`
	Action         string                 `json:"action"`        // "transfer.completed", "organization.approved"
	ResourceType   *string                `json:"resource_type"` // "transfer", "organization", "api_key"
	ResourceID     *string                `json:"resource_id"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"` // JSONB
	IPAddress      *string                `json:"ip_address"`
	CreatedAt      time.Time              `json:"created_at"`
}
