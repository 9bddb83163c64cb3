package services

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/consortium-members/membership-backend/internal/notify"
)

func TestSendBulk_DedupesAndMergesContacts(t *testing.T) {
	database, mock := newMockDB(t)
	kicker := &countingKicker{}
	svc := NewNotificationService(database, testCipher(t), kicker)

	mock.ExpectQuery("SELECT DISTINCT p.email").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("p1@acme.edu").AddRow("contact@beta.edu"))
	mock.ExpectBegin()
	expectEnqueue(mock, notify.TypeBulk, "p1@acme.edu")
	expectEnqueue(mock, notify.TypeBulk, "extra@gamma.edu")
	expectEnqueue(mock, notify.TypeBulk, "contact@beta.edu")
	expectAudit(mock, "notifications.bulk")
	mock.ExpectCommit()

	n, err := svc.SendBulk(context.Background(), BulkInput{
		Subject:     "Annual meeting",
		Body:        "See you in June.",
		Recipients:  []string{"P1@acme.edu", "extra@gamma.edu"},
		AllContacts: true,
		ActorID:     "admin-1",
	})
	if err != nil {
		t.Fatalf("SendBulk: %v", err)
	}
	if n != 3 {
		t.Errorf("queued = %d, want 3", n)
	}
	if kicker.n.Load() != 1 {
		t.Errorf("kicks = %d", kicker.n.Load())
	}
}

func TestSendBulk_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   BulkInput
	}{
		{"no subject", BulkInput{Body: "b", Recipients: []string{"a@x.org"}}},
		{"no body", BulkInput{Subject: "s", Recipients: []string{"a@x.org"}}},
		{"no recipients", BulkInput{Subject: "s", Body: "b"}},
		{"bad recipient", BulkInput{Subject: "s", Body: "b", Recipients: []string{"not-an-address"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database, _ := newMockDB(t)
			svc := NewNotificationService(database, nil, nil)
			if _, err := svc.SendBulk(context.Background(), tt.in); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestRetryNotification(t *testing.T) {
	database, mock := newMockDB(t)
	svc := NewNotificationService(database, nil, nil)

	mock.ExpectExec("UPDATE notifications SET status = 'pending'").
		WithArgs("n-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := svc.Retry(context.Background(), "n-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
