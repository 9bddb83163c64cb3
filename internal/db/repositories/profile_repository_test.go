package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/consortium-members/membership-backend/internal/db/models"
)

var profileCols = []string{"id", "email", "name", "oidc_sub", "organization_name", "is_admin", "created_at", "updated_at"}

func sampleProfileRow(id, email string, sub interface{}) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(profileCols).AddRow(id, email, "Pat Doe", sub, nil, false, now, now)
}

func newProfileRepo(t *testing.T) (*ProfileRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMock(t)
	return NewProfileRepository(db), mock
}

func TestGetByEmail_Normalizes(t *testing.T) {
	repo, mock := newProfileRepo(t)
	mock.ExpectQuery("SELECT.*FROM profiles WHERE email").
		WithArgs("new.contact@acme.edu").
		WillReturnRows(sampleProfileRow("p2", "new.contact@acme.edu", nil))

	p, err := repo.GetByEmail(context.Background(), "  New.Contact@ACME.edu ")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if p == nil || p.ID != "p2" {
		t.Fatalf("profile = %+v", p)
	}
}

func TestGetByEmail_NotFound(t *testing.T) {
	repo, mock := newProfileRepo(t)
	mock.ExpectQuery("SELECT.*FROM profiles WHERE email").
		WillReturnRows(sqlmock.NewRows(profileCols))

	p, err := repo.GetByEmail(context.Background(), "nobody@acme.edu")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil, got %+v", p)
	}
}

func TestUpdateOrganizationName(t *testing.T) {
	repo, mock := newProfileRepo(t)
	mock.ExpectExec("UPDATE profiles SET organization_name").
		WithArgs("p2", "Acme College").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateOrganizationName(context.Background(), "p2", strPtr("Acme College")); err != nil {
		t.Fatalf("UpdateOrganizationName: %v", err)
	}
}

func TestGetOrCreateFromOIDC_CreatesWhenUnknown(t *testing.T) {
	repo, mock := newProfileRepo(t)
	now := time.Now()
	mock.ExpectQuery("SELECT.*FROM profiles WHERE oidc_sub").
		WithArgs("sub-2").
		WillReturnRows(sqlmock.NewRows(profileCols))
	mock.ExpectQuery("SELECT.*FROM profiles WHERE email").
		WithArgs("new.contact@acme.edu").
		WillReturnRows(sqlmock.NewRows(profileCols))
	mock.ExpectQuery("INSERT INTO profiles").
		WithArgs("new.contact@acme.edu", "New Contact", "sub-2", false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("p2", now, now))

	p, err := repo.GetOrCreateFromOIDC(context.Background(), "sub-2", "New.Contact@acme.edu", "New Contact", false)
	if err != nil {
		t.Fatalf("GetOrCreateFromOIDC: %v", err)
	}
	if p.ID != "p2" {
		t.Errorf("ID = %q, want p2", p.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetOrCreateFromOIDC_ClaimsProfileByEmail(t *testing.T) {
	repo, mock := newProfileRepo(t)
	mock.ExpectQuery("SELECT.*FROM profiles WHERE oidc_sub").
		WillReturnRows(sqlmock.NewRows(profileCols))
	mock.ExpectQuery("SELECT.*FROM profiles WHERE email").
		WillReturnRows(sampleProfileRow("p2", "new.contact@acme.edu", nil))
	mock.ExpectExec("UPDATE profiles").
		WithArgs("p2", "Pat Doe", "sub-2", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p, err := repo.GetOrCreateFromOIDC(context.Background(), "sub-2", "new.contact@acme.edu", "", true)
	if err != nil {
		t.Fatalf("GetOrCreateFromOIDC: %v", err)
	}
	if p.OIDCSub == nil || *p.OIDCSub != "sub-2" || !p.IsAdmin {
		t.Errorf("profile not updated: %+v", p)
	}
}

func TestGetOrCreateFromOIDC_UnchangedSkipsUpdate(t *testing.T) {
	repo, mock := newProfileRepo(t)
	mock.ExpectQuery("SELECT.*FROM profiles WHERE oidc_sub").
		WillReturnRows(sampleProfileRow("p1", "p1@acme.edu", "sub-1"))

	if _, err := repo.GetOrCreateFromOIDC(context.Background(), "sub-1", "p1@acme.edu", "Pat Doe", false); err != nil {
		t.Fatalf("GetOrCreateFromOIDC: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListContactEmails(t *testing.T) {
	repo, mock := newProfileRepo(t)
	mock.ExpectQuery("SELECT DISTINCT p.email").
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("a@acme.edu").AddRow("b@beta.edu"))

	emails, err := repo.ListContactEmails(context.Background())
	if err != nil {
		t.Fatalf("ListContactEmails: %v", err)
	}
	if len(emails) != 2 {
		t.Errorf("len = %d, want 2", len(emails))
	}
}

func TestProfileCreate_DBError(t *testing.T) {
	repo, mock := newProfileRepo(t)
	mock.ExpectQuery("INSERT INTO profiles").WillReturnError(errDB)

	if err := repo.Create(context.Background(), &models.Profile{Email: "x@acme.edu"}); err == nil {
		t.Error("expected error, got nil")
	}
}
