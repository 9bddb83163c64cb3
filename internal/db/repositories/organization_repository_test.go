package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/consortium-members/membership-backend/internal/db/models"
)

var orgCols = []string{"id", "name", "slug", "contact_person_id", "status", "created_at", "updated_at"}

func sampleOrgRow() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(orgCols).
		AddRow("org-1", "Acme College", "acme-college", "p1", "approved", now, now)
}

func newOrgRepo(t *testing.T) (*OrganizationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMock(t)
	return NewOrganizationRepository(db), mock
}

func TestOrganizationGetByID_Found(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations WHERE id").
		WithArgs("org-1").
		WillReturnRows(sampleOrgRow())

	org, err := repo.GetByID(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if org == nil || org.Name != "Acme College" {
		t.Fatalf("org = %+v", org)
	}
	if !org.IsContact("p1") {
		t.Error("expected p1 to be contact")
	}
	if org.Status != models.OrganizationApproved {
		t.Errorf("Status = %q", org.Status)
	}
}

func TestOrganizationGetByID_NotFound(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations WHERE id").
		WillReturnRows(sqlmock.NewRows(orgCols))

	org, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if org != nil {
		t.Errorf("expected nil, got %+v", org)
	}
}

func TestOrganizationGetByIDForUpdate_LocksRow(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations WHERE id = \\$1 FOR UPDATE").
		WithArgs("org-1").
		WillReturnRows(sampleOrgRow())

	if _, err := repo.GetByIDForUpdate(context.Background(), "org-1"); err != nil {
		t.Fatalf("GetByIDForUpdate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOrganizationGetByID_DBError(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations").WillReturnError(errDB)

	if _, err := repo.GetByID(context.Background(), "org-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestCreateOrganization(t *testing.T) {
	repo, mock := newOrgRepo(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO organizations").
		WithArgs("Acme College", "acme-college", "p1", models.OrganizationPending).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("org-1", now, now))

	org := &models.Organization{Name: "Acme College", Slug: "acme-college", ContactPersonID: strPtr("p1"), Status: models.OrganizationPending}
	if err := repo.CreateOrganization(context.Background(), org); err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	if org.ID != "org-1" {
		t.Errorf("ID = %q, want org-1", org.ID)
	}
}

func TestListOrganizations(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM organizations").
		WithArgs("approved").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM organizations").
		WithArgs("approved", 20, 0).
		WillReturnRows(sampleOrgRow())

	orgs, total, err := repo.ListOrganizations(context.Background(), "approved", 20, 0)
	if err != nil {
		t.Fatalf("ListOrganizations: %v", err)
	}
	if total != 1 || len(orgs) != 1 {
		t.Errorf("total=%d len=%d, want 1/1", total, len(orgs))
	}
}

func TestUpdateStatus_OnlyFromPending(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectExec("UPDATE organizations.*status = 'pending'").
		WithArgs("org-1", models.OrganizationApproved).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateStatus(context.Background(), "org-1", models.OrganizationApproved)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if ok {
		t.Error("expected false when no pending row matched")
	}
}

func TestUpdateContactPerson(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"contact unchanged", 1, true},
		{"contact moved underneath", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newOrgRepo(t)
			mock.ExpectExec("UPDATE organizations.*contact_person_id IS NOT DISTINCT FROM").
				WithArgs("org-1", "p1", "p2").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := repo.UpdateContactPerson(context.Background(), "org-1", strPtr("p1"), "p2")
			if err != nil {
				t.Fatalf("UpdateContactPerson: %v", err)
			}
			if ok != tt.want {
				t.Errorf("ok = %v, want %v", ok, tt.want)
			}
		})
	}
}
