package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/consortium-members/membership-backend/internal/db/models"
)

var notificationCols = []string{
	"id", "type", "recipient", "payload", "status", "attempts", "last_error",
	"next_attempt_at", "sent_at", "archive_key", "created_at",
}

func newNotificationRepo(t *testing.T) (*NotificationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMock(t)
	return NewNotificationRepository(db), mock
}

func TestEnqueue(t *testing.T) {
	repo, mock := newNotificationRepo(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs(sqlmock.AnyArg(), "transfer_invitation", "new.contact@acme.edu", "sealed", models.NotificationPending).
		WillReturnRows(sqlmock.NewRows([]string{"next_attempt_at", "created_at"}).AddRow(now, now))

	n := &models.Notification{Type: "transfer_invitation", Recipient: "new.contact@acme.edu", Payload: "sealed"}
	if err := repo.Enqueue(context.Background(), n); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if n.ID == "" || n.Status != models.NotificationPending {
		t.Errorf("notification = %+v", n)
	}
}

func TestClaimDue_SkipsLocked(t *testing.T) {
	repo, mock := newNotificationRepo(t)
	now := time.Now()
	mock.ExpectQuery("SELECT.*FROM notifications.*FOR UPDATE SKIP LOCKED").
		WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows(notificationCols).
			AddRow("n-1", "transfer_invitation", "a@acme.edu", "sealed", "pending", 0, nil, now, nil, nil, now))

	due, err := repo.ClaimDue(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(due) != 1 || due[0].ID != "n-1" {
		t.Errorf("due = %+v", due)
	}
}

func TestMarkSent(t *testing.T) {
	repo, mock := newNotificationRepo(t)
	now := time.Now()
	mock.ExpectExec("UPDATE notifications.*status = 'sent'").
		WithArgs("n-1", now, "notifications/2026/01/n-1.eml").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkSent(context.Background(), "n-1", now, strPtr("notifications/2026/01/n-1.eml")); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
}

func TestMarkAttemptFailed(t *testing.T) {
	t.Run("reschedules when retryAt given", func(t *testing.T) {
		repo, mock := newNotificationRepo(t)
		retry := time.Now().Add(time.Minute)
		mock.ExpectExec("UPDATE notifications SET attempts = attempts \\+ 1, last_error = \\$2, next_attempt_at = \\$3").
			WithArgs("n-1", "smtp down", retry).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := repo.MarkAttemptFailed(context.Background(), "n-1", "smtp down", &retry); err != nil {
			t.Fatalf("MarkAttemptFailed: %v", err)
		}
	})

	t.Run("gives up when retryAt nil", func(t *testing.T) {
		repo, mock := newNotificationRepo(t)
		mock.ExpectExec("UPDATE notifications SET status = 'failed'").
			WithArgs("n-1", "smtp down").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := repo.MarkAttemptFailed(context.Background(), "n-1", "smtp down", nil); err != nil {
			t.Fatalf("MarkAttemptFailed: %v", err)
		}
	})
}

func TestRetry(t *testing.T) {
	repo, mock := newNotificationRepo(t)
	mock.ExpectExec("UPDATE notifications SET status = 'pending'").
		WithArgs("n-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Retry(context.Background(), "n-1")
	if err != nil || !ok {
		t.Errorf("Retry = %v, %v; want true, nil", ok, err)
	}
}
