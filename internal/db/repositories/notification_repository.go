// notification_repository.go implements NotificationRepository, the outbox of emails
// waiting for delivery. Rows are enqueued inside business transactions and claimed by the
// dispatcher with FOR UPDATE SKIP LOCKED so several replicas can drain it safely.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/consortium-members/membership-backend/internal/db/models"
)

const notificationColumns = `id, type, recipient, payload, status, attempts, last_error,
	next_attempt_at, sent_at, archive_key, created_at`

// NotificationRepository handles outbox database operations
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *NotificationRepository) WithTx(tx DBTX) *NotificationRepository {
	return &NotificationRepository{db: tx}
}

func scanNotification(row interface{ Scan(...interface{}) error }) (*models.Notification, error) {
	n := &models.Notification{}
	err := row.Scan(
		&n.ID,
		&n.Type,
		&n.Recipient,
		&n.Payload,
		&n.Status,
		&n.Attempts,
		&n.LastError,
		&n.NextAttemptAt,
		&n.SentAt,
		&n.ArchiveKey,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Enqueue inserts a pending notification, deliverable immediately
func (r *NotificationRepository) Enqueue(ctx context.Context, n *models.Notification) error {
	n.ID = uuid.New().String()
	n.Status = models.NotificationPending

	query := `
		INSERT INTO notifications (id, type, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING next_attempt_at, created_at
	`
	err := r.db.QueryRowContext(ctx, query, n.ID, n.Type, n.Recipient, n.Payload, n.Status).
		Scan(&n.NextAttemptAt, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// ClaimDue locks up to limit pending notifications whose next attempt is due.
// Must be called on a tx-bound repository; the locks hold until that tx ends.
func (r *NotificationRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at, created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkSent records a successful delivery
func (r *NotificationRepository) MarkSent(ctx context.Context, id string, sentAt time.Time, archiveKey *string) error {
	query := `
		UPDATE notifications
		SET status = 'sent', attempts = attempts + 1, sent_at = $2, archive_key = $3, last_error = NULL
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, sentAt, archiveKey); err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// MarkAttemptFailed records a failed delivery. When retryAt is nil the row is
// given up on and moves to failed.
func (r *NotificationRepository) MarkAttemptFailed(ctx context.Context, id, lastError string, retryAt *time.Time) error {
	if retryAt == nil {
		query := `UPDATE notifications SET status = 'failed', attempts = attempts + 1, last_error = $2 WHERE id = $1`
		if _, err := r.db.ExecContext(ctx, query, id, lastError); err != nil {
			return fmt.Errorf("failed to mark notification failed: %w", err)
		}
		return nil
	}

	query := `UPDATE notifications SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, lastError, *retryAt); err != nil {
		return fmt.Errorf("failed to reschedule notification: %w", err)
	}
	return nil
}

// ListNotifications returns outbox rows newest first, optionally filtered by status
func (r *NotificationRepository) ListNotifications(ctx context.Context, status string, limit, offset int) ([]*models.Notification, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// Retry puts a failed notification back in the queue
func (r *NotificationRepository) Retry(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'pending', next_attempt_at = NOW() WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to retry notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}
