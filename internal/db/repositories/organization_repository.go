// organization_repository.go implements OrganizationRepository, providing database queries
// for organization registration, approval status and primary-contact reassignment.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/consortium-members/membership-backend/internal/db/models"
)

const organizationColumns = `id, name, slug, contact_person_id, status, created_at, updated_at`

// OrganizationRepository handles database operations for organizations
type OrganizationRepository struct {
	db DBTX
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db DBTX) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *OrganizationRepository) WithTx(tx DBTX) *OrganizationRepository {
	return &OrganizationRepository{db: tx}
}

func scanOrganization(row interface{ Scan(...interface{}) error }) (*models.Organization, error) {
	org := &models.Organization{}
	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.Slug,
		&org.ContactPersonID,
		&org.Status,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE id = $1`

	org, err := scanOrganization(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetByIDForUpdate retrieves an organization and locks its row until the
// surrounding transaction ends. Must be called on a tx-bound repository.
func (r *OrganizationRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE id = $1 FOR UPDATE`

	org, err := scanOrganization(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock organization: %w", err)
	}
	return org, nil
}

// GetBySlug retrieves an organization by its slug
func (r *OrganizationRepository) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE slug = $1`

	org, err := scanOrganization(r.db.QueryRowContext(ctx, query, slug))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// CreateOrganization inserts a new organization
func (r *OrganizationRepository) CreateOrganization(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (name, slug, contact_person_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, org.Name, org.Slug, org.ContactPersonID, org.Status).Scan(
		&org.ID,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// ListOrganizations returns organizations ordered by name, optionally filtered by status
func (r *OrganizationRepository) ListOrganizations(ctx context.Context, status string, limit, offset int) ([]*models.Organization, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM organizations WHERE ($1 = '' OR status = $1)`
	if err := r.db.QueryRowContext(ctx, countQuery, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count organizations: %w", err)
	}

	query := `SELECT ` + organizationColumns + `
		FROM organizations
		WHERE ($1 = '' OR status = $1)
		ORDER BY name
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	orgs := make([]*models.Organization, 0)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, total, rows.Err()
}

// UpdateStatus moves an organization out of pending registration. Returns false
// when the organization was not pending.
func (r *OrganizationRepository) UpdateStatus(ctx context.Context, id string, status models.OrganizationStatus) (bool, error) {
	query := `
		UPDATE organizations
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return false, fmt.Errorf("failed to update organization status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateContactPerson reassigns the primary contact, guarded on the contact the
// caller last observed. Returns false when the contact changed underneath.
func (r *OrganizationRepository) UpdateContactPerson(ctx context.Context, id string, expectedContactID *string, newContactID string) (bool, error) {
	query := `
		UPDATE organizations
		SET contact_person_id = $3, updated_at = NOW()
		WHERE id = $1 AND contact_person_id IS NOT DISTINCT FROM $2
	`
	res, err := r.db.ExecContext(ctx, query, id, expectedContactID, newContactID)
	if err != nil {
		return false, fmt.Errorf("failed to update contact person: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}
