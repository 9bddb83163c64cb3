package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gosimple/slug"
	"github.com/jmoiron/sqlx"

	"github.com/consortium-members/membership-backend/internal/crypto"
	"github.com/consortium-members/membership-backend/internal/db"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/notify"
)

const maxOrganizationNameLen = 200

// OrganizationService handles member organization registration and approval
type OrganizationService struct {
	db           *sqlx.DB
	orgs         *repositories.OrganizationRepository
	outbox       outbox
	kicker       Kicker
	adminAddress string
}

// NewOrganizationService creates an OrganizationService. cipher and kicker may be nil.
func NewOrganizationService(database *sqlx.DB, cipher *crypto.PayloadCipher, kicker Kicker, adminAddress string) *OrganizationService {
	if kicker == nil {
		kicker = noopKicker{}
	}
	return &OrganizationService{
		db:           database,
		orgs:         repositories.NewOrganizationRepository(database),
		outbox:       outbox{cipher: cipher},
		kicker:       kicker,
		adminAddress: adminAddress,
	}
}

// Register creates a pending organization with the requester as its primary contact
func (s *OrganizationService) Register(ctx context.Context, name, requesterID string) (*models.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	if len(name) > maxOrganizationNameLen {
		return nil, validationError(fmt.Sprintf("name must be at most %d characters", maxOrganizationNameLen))
	}
	orgSlug := slug.Make(name)
	if orgSlug == "" {
		return nil, validationError("name must contain letters or digits")
	}

	var org *models.Organization
	err := db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		r := newTxRepos(tx)

		requester, err := r.profiles.GetByID(ctx, requesterID)
		if err != nil {
			return err
		}
		if requester == nil {
			return ErrForbidden
		}

		existing, err := r.orgs.GetBySlug(ctx, orgSlug)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("organization %q: %w", orgSlug, ErrAlreadyExists)
		}

		org = &models.Organization{
			Name:            name,
			Slug:            orgSlug,
			ContactPersonID: &requester.ID,
			Status:          models.OrganizationPending,
		}
		if err := r.orgs.CreateOrganization(ctx, org); err != nil {
			if repositories.IsUniqueViolation(err, "") {
				return fmt.Errorf("organization %q: %w", orgSlug, ErrAlreadyExists)
			}
			return err
		}

		if err := s.outbox.enqueue(ctx, r.notifications, notify.TypeOrganizationRegistered, s.adminAddress, notify.Payload{
			OrganizationName: org.Name,
			RequesterName:    requester.Name,
			RequesterEmail:   requester.Email,
		}); err != nil {
			return err
		}

		return r.audit.Record(ctx, &requester.ID, &org.ID, "organization.registered", "organization", org.ID, map[string]interface{}{
			"name": org.Name,
			"slug": org.Slug,
		})
	})
	if err != nil {
		return nil, err
	}

	slog.Info("organization registered", "organization_id", org.ID, "slug", org.Slug)
	s.kicker.Kick()
	return org, nil
}

// Approve accepts a pending registration and tells the contact
func (s *OrganizationService) Approve(ctx context.Context, id, adminID string) (*models.Organization, error) {
	return s.decide(ctx, id, adminID, models.OrganizationApproved, "")
}

// Reject declines a pending registration and tells the contact why
func (s *OrganizationService) Reject(ctx context.Context, id, adminID, reason string) (*models.Organization, error) {
	return s.decide(ctx, id, adminID, models.OrganizationRejected, strings.TrimSpace(reason))
}

func (s *OrganizationService) decide(ctx context.Context, id, adminID string, status models.OrganizationStatus, reason string) (*models.Organization, error) {
	var org *models.Organization
	err := db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		r := newTxRepos(tx)

		var err error
		org, err = r.orgs.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if org == nil {
			return ErrNotFound
		}

		ok, err := r.orgs.UpdateStatus(ctx, org.ID, status)
		if err != nil {
			return err
		}
		if !ok {
			return validationError(fmt.Sprintf("organization is %s, not pending", org.Status))
		}
		org.Status = status

		var contact *models.Profile
		if org.ContactPersonID != nil {
			if contact, err = r.profiles.GetByID(ctx, *org.ContactPersonID); err != nil {
				return err
			}
		}
		if contact != nil {
			if status == models.OrganizationApproved {
				if err := r.profiles.UpdateOrganizationName(ctx, contact.ID, &org.Name); err != nil {
					return err
				}
			}
			typ := notify.TypeOrganizationRejected
			if status == models.OrganizationApproved {
				typ = notify.TypeOrganizationApproved
			}
			if err := s.outbox.enqueue(ctx, r.notifications, typ, contact.Email, notify.Payload{
				OrganizationName: org.Name,
				RecipientName:    contact.Name,
				Reason:           reason,
			}); err != nil {
				return err
			}
		}

		return r.audit.Record(ctx, &adminID, &org.ID, "organization."+string(status), "organization", org.ID, map[string]interface{}{
			"reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}

	slog.Info("organization registration decided", "organization_id", org.ID, "status", status)
	s.kicker.Kick()
	return org, nil
}

// Get returns an organization by ID
func (s *OrganizationService) Get(ctx context.Context, id string) (*models.Organization, error) {
	org, err := s.orgs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, ErrNotFound
	}
	return org, nil
}

// List returns organizations, optionally filtered by registration status
func (s *OrganizationService) List(ctx context.Context, status string, limit, offset int) ([]*models.Organization, int, error) {
	if status != "" {
		switch models.OrganizationStatus(status) {
		case models.OrganizationPending, models.OrganizationApproved, models.OrganizationRejected:
		default:
			return nil, 0, validationError("unknown organization status")
		}
	}
	return s.orgs.ListOrganizations(ctx, status, limit, offset)
}
