package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/transfer"
)

var transferCols = []string{
	"id", "organization_id", "requested_by", "current_contact_id", "new_contact_id",
	"new_contact_email", "token_hash", "status", "rejection_reason", "expires_at", "completed_at",
	"version", "created_at", "updated_at",
}

func sampleTransferRow(status string, version int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(transferCols).AddRow(
		"tr-1", "org-1", "p1", "p1", nil,
		"new.contact@acme.edu", "hash", status, nil, now.Add(time.Hour), nil,
		version, now, now,
	)
}

func newTransferRepo(t *testing.T) (*TransferRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMock(t)
	return NewTransferRepository(db), mock
}

func TestTransferCreate(t *testing.T) {
	repo, mock := newTransferRepo(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO transfer_requests").
		WithArgs(sqlmock.AnyArg(), "org-1", "p1", "p1", "new.contact@acme.edu", "hash", transfer.StatusPending, sqlmock.AnyArg(), 1).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	tr := &models.TransferRequest{
		OrganizationID:   "org-1",
		RequestedBy:      "p1",
		CurrentContactID: "p1",
		NewContactEmail:  "new.contact@acme.edu",
		TokenHash:        "hash",
		Status:           transfer.StatusPending,
		ExpiresAt:        now.Add(7 * 24 * time.Hour),
	}
	if err := repo.Create(context.Background(), tr); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tr.ID == "" || tr.Version != 1 {
		t.Errorf("ID=%q Version=%d", tr.ID, tr.Version)
	}
}

func TestTransferCreate_PendingIndexViolation(t *testing.T) {
	repo, mock := newTransferRepo(t)
	mock.ExpectQuery("INSERT INTO transfer_requests").
		WillReturnError(&pq.Error{Code: "23505", Constraint: PendingTransferIndex})

	err := repo.Create(context.Background(), &models.TransferRequest{Status: transfer.StatusPending})
	if !IsUniqueViolation(err, PendingTransferIndex) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
	if IsUniqueViolation(err, "some_other_index") {
		t.Error("constraint name should be respected")
	}
}

func TestTransferGetByID_UnparseableID(t *testing.T) {
	repo, mock := newTransferRepo(t)
	mock.ExpectQuery("FROM transfer_requests WHERE id = \\$1").
		WithArgs("not-a-uuid").
		WillReturnError(&pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "not-a-uuid"`})

	tr, err := repo.GetByID(context.Background(), "not-a-uuid")
	if tr != nil || err == nil {
		t.Fatalf("GetByID = %v, %v; want nil and an error", tr, err)
	}
	if !IsInvalidInput(err) {
		t.Errorf("IsInvalidInput(%v) = false, want true", err)
	}
	if IsInvalidInput(errors.New("connection reset")) || IsInvalidInput(&pq.Error{Code: "23505"}) {
		t.Error("IsInvalidInput must only match SQLSTATE 22P02")
	}
}

func TestGetByTokenHash(t *testing.T) {
	repo, mock := newTransferRepo(t)
	mock.ExpectQuery("SELECT.*FROM transfer_requests WHERE token_hash").
		WithArgs("hash").
		WillReturnRows(sampleTransferRow("pending", 1))

	tr, err := repo.GetByTokenHash(context.Background(), "hash")
	if err != nil {
		t.Fatalf("GetByTokenHash: %v", err)
	}
	if tr == nil || tr.Status != transfer.StatusPending {
		t.Fatalf("transfer = %+v", tr)
	}
}

func TestGetPendingByOrganization_None(t *testing.T) {
	repo, mock := newTransferRepo(t)
	mock.ExpectQuery("SELECT.*FROM transfer_requests WHERE organization_id = \\$1 AND status = 'pending'").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(transferCols))

	tr, err := repo.GetPendingByOrganization(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("GetPendingByOrganization: %v", err)
	}
	if tr != nil {
		t.Errorf("expected nil, got %+v", tr)
	}
}

func TestListTransfers_Filters(t *testing.T) {
	repo, mock := newTransferRepo(t)
	status := transfer.StatusPending
	org := "org-1"
	mock.ExpectQuery("SELECT COUNT.*FROM transfer_requests WHERE 1=1 AND status = \\$1 AND organization_id = \\$2").
		WithArgs(status, org).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM transfer_requests.*LIMIT \\$3 OFFSET \\$4").
		WithArgs(status, org, 50, 0).
		WillReturnRows(sampleTransferRow("pending", 1))

	list, total, err := repo.ListTransfers(context.Background(), TransferFilters{Status: &status, OrganizationID: &org}, 50, 0)
	if err != nil {
		t.Fatalf("ListTransfers: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Errorf("total=%d len=%d", total, len(list))
	}
}

func TestUpdateStatus_BumpsVersion(t *testing.T) {
	repo, mock := newTransferRepo(t)
	now := time.Now()
	completedAt := now
	mock.ExpectQuery("UPDATE transfer_requests.*WHERE id = \\$1 AND version = \\$2").
		WithArgs("tr-1", 3, transfer.StatusCompleted, "p2", nil, completedAt).
		WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}).AddRow(4, now))

	tr := &models.TransferRequest{ID: "tr-1", Version: 3, Status: transfer.StatusAccepted}
	err := repo.UpdateStatus(context.Background(), tr, StatusUpdate{
		Status:       transfer.StatusCompleted,
		NewContactID: strPtr("p2"),
		CompletedAt:  &completedAt,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if tr.Version != 4 || tr.Status != transfer.StatusCompleted || tr.CompletedAt == nil {
		t.Errorf("transfer not updated in place: %+v", tr)
	}
	if tr.NewContactID == nil || *tr.NewContactID != "p2" {
		t.Errorf("NewContactID = %v", tr.NewContactID)
	}
}

func TestUpdateStatus_StaleVersion(t *testing.T) {
	repo, mock := newTransferRepo(t)
	mock.ExpectQuery("UPDATE transfer_requests").
		WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}))

	tr := &models.TransferRequest{ID: "tr-1", Version: 3, Status: transfer.StatusPending}
	err := repo.UpdateStatus(context.Background(), tr, StatusUpdate{Status: transfer.StatusCompleted})
	if !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("err = %v, want ErrStaleVersion", err)
	}
	if tr.Status != transfer.StatusPending || tr.Version != 3 {
		t.Errorf("transfer mutated on conflict: %+v", tr)
	}
}

func TestListExpiredPending(t *testing.T) {
	repo, mock := newTransferRepo(t)
	now := time.Now()
	mock.ExpectQuery("SELECT.*FROM transfer_requests.*status = 'pending' AND expires_at <= \\$1").
		WithArgs(now, 100).
		WillReturnRows(sampleTransferRow("pending", 1))

	list, err := repo.ListExpiredPending(context.Background(), now, 100)
	if err != nil {
		t.Fatalf("ListExpiredPending: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len = %d, want 1", len(list))
	}
}
