package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/consortium-members/membership-backend/internal/crypto"
	"github.com/consortium-members/membership-backend/internal/db"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/notify"
)

const (
	maxBulkSubjectLen = 200
	maxBulkRecipients = 5000
)

// BulkInput is an admin broadcast. Recipients and AllContacts may be combined.
type BulkInput struct {
	Subject     string
	Body        string
	Recipients  []string
	AllContacts bool
	ActorID     string
}

// NotificationService queues admin broadcasts and exposes the outbox to admins.
// Delivery pacing is the dispatcher's job, not this service's.
type NotificationService struct {
	db            *sqlx.DB
	profiles      *repositories.ProfileRepository
	notifications *repositories.NotificationRepository
	outbox        outbox
	kicker        Kicker
}

// NewNotificationService creates a NotificationService. cipher and kicker may be nil.
func NewNotificationService(database *sqlx.DB, cipher *crypto.PayloadCipher, kicker Kicker) *NotificationService {
	if kicker == nil {
		kicker = noopKicker{}
	}
	return &NotificationService{
		db:            database,
		profiles:      repositories.NewProfileRepository(database),
		notifications: repositories.NewNotificationRepository(database),
		outbox:        outbox{cipher: cipher},
		kicker:        kicker,
	}
}

// SendBulk queues one notification per distinct recipient and returns how many were queued
func (s *NotificationService) SendBulk(ctx context.Context, in BulkInput) (int, error) {
	subject := strings.TrimSpace(in.Subject)
	if subject == "" || strings.TrimSpace(in.Body) == "" {
		return 0, validationError("subject and body are required")
	}
	if len(subject) > maxBulkSubjectLen {
		return 0, validationError(fmt.Sprintf("subject must be at most %d characters", maxBulkSubjectLen))
	}

	raw := append([]string(nil), in.Recipients...)
	if in.AllContacts {
		contacts, err := s.profiles.ListContactEmails(ctx)
		if err != nil {
			return 0, err
		}
		raw = append(raw, contacts...)
	}

	seen := make(map[string]struct{}, len(raw))
	recipients := make([]string, 0, len(raw))
	for _, r := range raw {
		email, err := normalizeAddress(r)
		if err != nil {
			return 0, validationError(fmt.Sprintf("invalid recipient %q", r))
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		recipients = append(recipients, email)
	}
	if len(recipients) == 0 {
		return 0, validationError("no recipients")
	}
	if len(recipients) > maxBulkRecipients {
		return 0, validationError(fmt.Sprintf("at most %d recipients per broadcast", maxBulkRecipients))
	}

	err := db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		r := newTxRepos(tx)
		for _, to := range recipients {
			if err := s.outbox.enqueue(ctx, r.notifications, notify.TypeBulk, to, notify.Payload{
				Subject: subject,
				Body:    in.Body,
			}); err != nil {
				return err
			}
		}
		return r.audit.Record(ctx, &in.ActorID, nil, "notifications.bulk", "notification", "", map[string]interface{}{
			"subject":    subject,
			"recipients": len(recipients),
		})
	})
	if err != nil {
		return 0, err
	}

	s.kicker.Kick()
	return len(recipients), nil
}

// List returns outbox rows, optionally filtered by delivery status
func (s *NotificationService) List(ctx context.Context, status string, limit, offset int) ([]*models.Notification, int, error) {
	if status != "" {
		switch models.NotificationStatus(status) {
		case models.NotificationPending, models.NotificationSent, models.NotificationFailed:
		default:
			return nil, 0, validationError("unknown notification status")
		}
	}
	return s.notifications.ListNotifications(ctx, status, limit, offset)
}

// Retry requeues a failed notification
func (s *NotificationService) Retry(ctx context.Context, id string) error {
	ok, err := s.notifications.Retry(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.kicker.Kick()
	return nil
}
