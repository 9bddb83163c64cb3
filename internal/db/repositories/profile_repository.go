// profile_repository.go implements ProfileRepository, providing database queries for
// member profiles: lookup by id, email and OIDC subject, provisioning on sign-in and the
// denormalized organization name written when a profile becomes a primary contact.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/consortium-members/membership-backend/internal/db/models"
)

const profileColumns = `id, email, name, oidc_sub, organization_name, is_admin, created_at, updated_at`

// ProfileRepository handles profile database operations
type ProfileRepository struct {
	db DBTX
}

// NewProfileRepository creates a new ProfileRepository
func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *ProfileRepository) WithTx(tx DBTX) *ProfileRepository {
	return &ProfileRepository{db: tx}
}

func scanProfile(row interface{ Scan(...interface{}) error }) (*models.Profile, error) {
	p := &models.Profile{}
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.Name,
		&p.OIDCSub,
		&p.OrganizationName,
		&p.IsAdmin,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProfileRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE ` + where
	p, err := scanProfile(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// GetByID retrieves a profile by ID
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	return r.getOne(ctx, "id = $1", id)
}

// GetByEmail retrieves a profile by email (case-insensitive)
func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	return r.getOne(ctx, "email = $1", NormalizeEmail(email))
}

// GetByOIDCSub retrieves a profile by OIDC subject
func (r *ProfileRepository) GetByOIDCSub(ctx context.Context, sub string) (*models.Profile, error) {
	return r.getOne(ctx, "oidc_sub = $1", sub)
}

// Create inserts a new profile
func (r *ProfileRepository) Create(ctx context.Context, p *models.Profile) error {
	p.Email = NormalizeEmail(p.Email)
	query := `
		INSERT INTO profiles (email, name, oidc_sub, is_admin)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, p.Email, p.Name, p.OIDCSub, p.IsAdmin).Scan(
		&p.ID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// UpdateIdentity updates the name, OIDC subject and admin flag of a profile
func (r *ProfileRepository) UpdateIdentity(ctx context.Context, p *models.Profile) error {
	query := `
		UPDATE profiles
		SET name = $2, oidc_sub = $3, is_admin = $4, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, p.ID, p.Name, p.OIDCSub, p.IsAdmin); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// UpdateOrganizationName writes the denormalized organization name onto a profile
func (r *ProfileRepository) UpdateOrganizationName(ctx context.Context, id string, orgName *string) error {
	query := `UPDATE profiles SET organization_name = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, orgName); err != nil {
		return fmt.Errorf("failed to update profile organization name: %w", err)
	}
	return nil
}

// GetOrCreateFromOIDC finds a profile by OIDC subject, then by email (claiming a
// profile an admin created ahead of first sign-in), and creates one otherwise.
// makeAdmin only ever promotes; it never revokes an existing admin flag.
func (r *ProfileRepository) GetOrCreateFromOIDC(ctx context.Context, sub, email, name string, makeAdmin bool) (*models.Profile, error) {
	p, err := r.GetByOIDCSub(ctx, sub)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p, err = r.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
	}

	if p == nil {
		p = &models.Profile{Email: email, Name: name, OIDCSub: &sub, IsAdmin: makeAdmin}
		if err := r.Create(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}

	changed := false
	if p.OIDCSub == nil || *p.OIDCSub != sub {
		p.OIDCSub = &sub
		changed = true
	}
	if name != "" && p.Name != name {
		p.Name = name
		changed = true
	}
	if makeAdmin && !p.IsAdmin {
		p.IsAdmin = true
		changed = true
	}
	if changed {
		if err := r.UpdateIdentity(ctx, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ListContactEmails returns the email of every primary contact of an approved organization
func (r *ProfileRepository) ListContactEmails(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT p.email
		FROM profiles p
		JOIN organizations o ON o.contact_person_id = p.id
		WHERE o.status = 'approved'
		ORDER BY p.email
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact emails: %w", err)
	}
	defer rows.Close()

	emails := make([]string, 0)
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("failed to scan contact email: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// NormalizeEmail lower-cases and trims an address for storage and lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
