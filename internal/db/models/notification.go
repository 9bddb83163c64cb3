// Package models - notification.go defines the outbox row for an email waiting to be
// delivered. Rows are written inside the transaction that caused them and delivered
// after commit by the dispatcher job.
package models

import "time"

// NotificationStatus is the delivery state of an outbox row
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is an outbox row
type Notification struct {
	ID            string             `json:"id"`
	Type          string             `json:"type"` // template discriminator
	Recipient     string             `json:"recipient"`
	Payload       string             `json:"-"` // sealed JSON template data
	Status        NotificationStatus `json:"status"`
	Attempts      int                `json:"attempts"`
	LastError     *string            `json:"last_error,omitempty"`
	NextAttemptAt time.Time          `json:"next_attempt_at"`
	SentAt        *time.Time         `json:"sent_at,omitempty"`
	ArchiveKey    *string            `json:"archive_key,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}
