// transfer_repository.go implements TransferRepository, providing database queries for
// contact transfer requests. Status writes are version-checked; whether a transition is
// legal is decided by the caller, never here.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/transfer"
)

// PendingTransferIndex is the partial unique index allowing one pending transfer per organization
const PendingTransferIndex = "uq_transfer_requests_pending_org"

// ErrStaleVersion is returned when a version-checked update matched no row
var ErrStaleVersion = errors.New("transfer request was modified concurrently")

const transferColumns = `id, organization_id, requested_by, current_contact_id, new_contact_id,
	new_contact_email, token_hash, status, rejection_reason, expires_at, completed_at,
	version, created_at, updated_at`

// TransferRepository handles transfer request database operations
type TransferRepository struct {
	db DBTX
}

// NewTransferRepository creates a new TransferRepository
func NewTransferRepository(db DBTX) *TransferRepository {
	return &TransferRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *TransferRepository) WithTx(tx DBTX) *TransferRepository {
	return &TransferRepository{db: tx}
}

// TransferFilters narrows ListTransfers
type TransferFilters struct {
	Status         *transfer.Status
	OrganizationID *string
}

// StatusUpdate describes a status write. Nil pointer fields leave the column unchanged.
type StatusUpdate struct {
	Status          transfer.Status
	NewContactID    *string
	RejectionReason *string
	CompletedAt     *time.Time
}

func scanTransfer(row interface{ Scan(...interface{}) error }) (*models.TransferRequest, error) {
	t := &models.TransferRequest{}
	err := row.Scan(
		&t.ID,
		&t.OrganizationID,
		&t.RequestedBy,
		&t.CurrentContactID,
		&t.NewContactID,
		&t.NewContactEmail,
		&t.TokenHash,
		&t.Status,
		&t.RejectionReason,
		&t.ExpiresAt,
		&t.CompletedAt,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Create inserts a new pending transfer request
func (r *TransferRepository) Create(ctx context.Context, t *models.TransferRequest) error {
	t.ID = uuid.New().String()
	t.Version = 1

	query := `
		INSERT INTO transfer_requests
			(id, organization_id, requested_by, current_contact_id, new_contact_email, token_hash, status, expires_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		t.ID,
		t.OrganizationID,
		t.RequestedBy,
		t.CurrentContactID,
		t.NewContactEmail,
		t.TokenHash,
		t.Status,
		t.ExpiresAt,
		t.Version,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transfer request: %w", err)
	}
	return nil
}

func (r *TransferRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.TransferRequest, error) {
	query := `SELECT ` + transferColumns + ` FROM transfer_requests WHERE ` + where
	t, err := scanTransfer(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transfer request: %w", err)
	}
	return t, nil
}

// GetByID retrieves a transfer request by ID
func (r *TransferRepository) GetByID(ctx context.Context, id string) (*models.TransferRequest, error) {
	return r.getOne(ctx, "id = $1", id)
}

// GetByTokenHash retrieves a transfer request by the hash of its capability token
func (r *TransferRepository) GetByTokenHash(ctx context.Context, hash string) (*models.TransferRequest, error) {
	return r.getOne(ctx, "token_hash = $1", hash)
}

// GetPendingByOrganization retrieves the outstanding transfer of an organization, if any
func (r *TransferRepository) GetPendingByOrganization(ctx context.Context, orgID string) (*models.TransferRequest, error) {
	return r.getOne(ctx, "organization_id = $1 AND status = 'pending'", orgID)
}

// ListTransfers returns transfer requests newest first
func (r *TransferRepository) ListTransfers(ctx context.Context, filters TransferFilters, limit, offset int) ([]*models.TransferRequest, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.Status != nil {
		where += fmt.Sprintf(` AND status = $%d`, paramIndex)
		args = append(args, *filters.Status)
		paramIndex++
	}
	if filters.OrganizationID != nil {
		where += fmt.Sprintf(` AND organization_id = $%d`, paramIndex)
		args = append(args, *filters.OrganizationID)
		paramIndex++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transfer_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transfer requests: %w", err)
	}

	query := `SELECT ` + transferColumns + ` FROM transfer_requests` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transfer requests: %w", err)
	}
	defer rows.Close()

	transfers := make([]*models.TransferRequest, 0)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transfer request: %w", err)
		}
		transfers = append(transfers, t)
	}
	return transfers, total, rows.Err()
}

// ListExpiredPending returns pending requests whose expiry is at or before now
func (r *TransferRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.TransferRequest, error) {
	query := `SELECT ` + transferColumns + `
		FROM transfer_requests
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired transfer requests: %w", err)
	}
	defer rows.Close()

	transfers := make([]*models.TransferRequest, 0)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer request: %w", err)
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// UpdateStatus writes a new status if the row still carries t.Version. On success t is
// updated in place (status, version, timestamps). ErrStaleVersion means another writer
// got there first.
func (r *TransferRepository) UpdateStatus(ctx context.Context, t *models.TransferRequest, u StatusUpdate) error {
	query := `
		UPDATE transfer_requests
		SET status = $3,
			new_contact_id = COALESCE($4, new_contact_id),
			rejection_reason = COALESCE($5, rejection_reason),
			completed_at = $6,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		t.ID,
		t.Version,
		u.Status,
		u.NewContactID,
		u.RejectionReason,
		u.CompletedAt,
	).Scan(&t.Version, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrStaleVersion
		}
		return fmt.Errorf("failed to update transfer request status: %w", err)
	}

	t.Status = u.Status
	if u.NewContactID != nil {
		t.NewContactID = u.NewContactID
	}
	if u.RejectionReason != nil {
		t.RejectionReason = u.RejectionReason
	}
	t.CompletedAt = u.CompletedAt
	return nil
}
