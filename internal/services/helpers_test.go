package services

import (
	"bytes"
	"database/sql/driver"
	"sync/atomic"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/consortium-members/membership-backend/internal/crypto"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/transfer"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type countingKicker struct{ n atomic.Int32 }

func (k *countingKicker) Kick() { k.n.Add(1) }

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sql expectations: %v", err)
		}
		raw.Close()
	})
	return sqlx.NewDb(raw, "postgres"), mock
}

func testCipher(t *testing.T) *crypto.PayloadCipher {
	t.Helper()
	tc, err := crypto.NewPayloadCipher(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("NewPayloadCipher: %v", err)
	}
	return tc
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

var (
	profileCols  = []string{"id", "email", "name", "oidc_sub", "organization_name", "is_admin", "created_at", "updated_at"}
	orgCols      = []string{"id", "name", "slug", "contact_person_id", "status", "created_at", "updated_at"}
	transferCols = []string{
		"id", "organization_id", "requested_by", "current_contact_id", "new_contact_id",
		"new_contact_email", "token_hash", "status", "rejection_reason", "expires_at", "completed_at",
		"version", "created_at", "updated_at",
	}
)

type profileRow struct {
	id, email, name string
}

var (
	patOne     = profileRow{"p1", "p1@acme.edu", "Pat One"}
	newContact = profileRow{"p2", "new.contact@acme.edu", "Sam Two"}
)

func profileRows(p profileRow) *sqlmock.Rows {
	return sqlmock.NewRows(profileCols).AddRow(p.id, p.email, p.name, nil, nil, false, fixedNow, fixedNow)
}

func orgRows(id, name string, contactID interface{}, status string) *sqlmock.Rows {
	return sqlmock.NewRows(orgCols).AddRow(id, name, "acme-college", contactID, status, fixedNow, fixedNow)
}

type transferRow struct {
	id           string
	status       transfer.Status
	newContactID interface{}
	expiresAt    time.Time
	version      int
}

func pendingTransfer() transferRow {
	return transferRow{id: "tr-1", status: transfer.StatusPending, expiresAt: fixedNow.Add(72 * time.Hour), version: 1}
}

func (r transferRow) rows() *sqlmock.Rows {
	var completedAt driver.Value
	if r.status == transfer.StatusCompleted {
		completedAt = fixedNow.Add(-time.Hour)
	}
	return sqlmock.NewRows(transferCols).AddRow(
		r.id, "org-1", "p1", "p1", r.newContactID,
		"new.contact@acme.edu", "hash", string(r.status), nil, r.expiresAt, completedAt,
		r.version, fixedNow.Add(-96*time.Hour), fixedNow.Add(-96*time.Hour),
	)
}

// ---------------------------------------------------------------------------
// Expectation helpers. Patterns are regexps over whitespace-collapsed SQL.
// ---------------------------------------------------------------------------

func expectProfileByID(mock sqlmock.Sqlmock, p profileRow) {
	mock.ExpectQuery("FROM profiles WHERE id = \\$1").WithArgs(p.id).WillReturnRows(profileRows(p))
}

func expectProfileByEmail(mock sqlmock.Sqlmock, email string, p *profileRow) {
	q := mock.ExpectQuery("FROM profiles WHERE email = \\$1").WithArgs(email)
	if p == nil {
		q.WillReturnRows(sqlmock.NewRows(profileCols))
		return
	}
	q.WillReturnRows(profileRows(*p))
}

func expectOrgForUpdate(mock sqlmock.Sqlmock, contactID interface{}) {
	mock.ExpectQuery("FROM organizations WHERE id = \\$1 FOR UPDATE").
		WithArgs("org-1").
		WillReturnRows(orgRows("org-1", "Acme College", contactID, "approved"))
}

func expectOrgByID(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("FROM organizations WHERE id = \\$1").
		WithArgs("org-1").
		WillReturnRows(orgRows("org-1", "Acme College", "p1", "approved"))
}

func expectTransferByID(mock sqlmock.Sqlmock, r transferRow) {
	mock.ExpectQuery("FROM transfer_requests WHERE id = \\$1").WithArgs(r.id).WillReturnRows(r.rows())
}

func expectStatusUpdate(mock sqlmock.Sqlmock, r transferRow, to transfer.Status, newContactID, reason, completedAt interface{}) {
	mock.ExpectQuery("UPDATE transfer_requests").
		WithArgs(r.id, r.version, to, newContactID, reason, completedAt).
		WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}).AddRow(r.version+1, fixedNow))
}

func expectStaleStatusUpdate(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("UPDATE transfer_requests").
		WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}))
}

func expectEnqueue(mock sqlmock.Sqlmock, typ, recipient string) {
	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs(sqlmock.AnyArg(), typ, recipient, sqlmock.AnyArg(), models.NotificationPending).
		WillReturnRows(sqlmock.NewRows([]string{"next_attempt_at", "created_at"}).AddRow(fixedNow, fixedNow))
}

func expectAudit(mock sqlmock.Sqlmock, action string) {
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), action,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}
