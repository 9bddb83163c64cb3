package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/consortium-members/membership-backend/internal/crypto"
	"github.com/consortium-members/membership-backend/internal/db"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/notify"
	"github.com/consortium-members/membership-backend/internal/telemetry"
	"github.com/consortium-members/membership-backend/internal/transfer"
)

const (
	// DefaultTransferExpiry is the acceptance horizon when none is configured
	DefaultTransferExpiry = 7 * 24 * time.Hour

	maxRejectionReasonLen = 1000
	expireBatchSize       = 100
)

// TransferOptions configures a TransferService
type TransferOptions struct {
	// SiteURL is the public base the accept link is built on, without trailing slash
	SiteURL string
	// AdminAddress receives initiation and acceptance notices; empty disables them
	AdminAddress string
	Expiry       time.Duration
}

// TransferService runs the contact transfer lifecycle. Every status write goes
// through transfer.Transition and is version-checked in the database.
type TransferService struct {
	db        *sqlx.DB
	transfers *repositories.TransferRepository
	outbox    outbox
	kicker    Kicker
	opts      TransferOptions
	now       func() time.Time
}

// NewTransferService creates a TransferService. cipher and kicker may be nil.
func NewTransferService(database *sqlx.DB, cipher *crypto.PayloadCipher, kicker Kicker, opts TransferOptions) *TransferService {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultTransferExpiry
	}
	opts.SiteURL = strings.TrimSuffix(opts.SiteURL, "/")
	if kicker == nil {
		kicker = noopKicker{}
	}
	return &TransferService{
		db:        database,
		transfers: repositories.NewTransferRepository(database),
		outbox:    outbox{cipher: cipher},
		kicker:    kicker,
		opts:      opts,
		now:       time.Now,
	}
}

// InitiateInput is a request to hand an organization's contact role to someone else
type InitiateInput struct {
	OrganizationID  string
	NewContactEmail string
	RequesterID     string
}

// Viewer identifies who is reading a transfer
type Viewer struct {
	ProfileID string
	IsAdmin   bool
}

// Initiate creates a pending transfer and queues the invitation. Only the
// organization's current primary contact may initiate, and only while no other
// transfer for the organization is pending.
func (s *TransferService) Initiate(ctx context.Context, in InitiateInput) (*models.TransferRequest, error) {
	email, err := normalizeAddress(in.NewContactEmail)
	if err != nil {
		return nil, err
	}
	if in.OrganizationID == "" {
		return nil, validationError("organization_id is required")
	}

	now := s.now()
	var created *models.TransferRequest

	err = db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		r := newTxRepos(tx)

		requester, err := r.profiles.GetByID(ctx, in.RequesterID)
		if err != nil {
			return err
		}
		if requester == nil {
			return ErrForbidden
		}
		if requester.Email == email {
			return validationError("cannot transfer the contact role to yourself")
		}

		org, err := r.orgs.GetByIDForUpdate(ctx, in.OrganizationID)
		if err != nil {
			return err
		}
		if org == nil {
			return ErrNotFound
		}
		if !org.IsContact(requester.ID) {
			return ErrForbidden
		}

		existing, err := r.transfers.GetPendingByOrganization(ctx, org.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if !existing.IsExpired(now) {
				return ErrDuplicatePending
			}
			if err := s.expireTx(ctx, r, existing, nil, false); err != nil {
				return err
			}
		}

		token, hash, err := transfer.NewToken()
		if err != nil {
			return err
		}
		tr := &models.TransferRequest{
			OrganizationID:   org.ID,
			RequestedBy:      requester.ID,
			CurrentContactID: requester.ID,
			NewContactEmail:  email,
			TokenHash:        hash,
			Status:           transfer.StatusPending,
			ExpiresAt:        now.Add(s.opts.Expiry),
		}
		if err := r.transfers.Create(ctx, tr); err != nil {
			if repositories.IsUniqueViolation(err, repositories.PendingTransferIndex) {
				return ErrDuplicatePending
			}
			return err
		}

		expires := tr.ExpiresAt.UTC().Format("2 Jan 2006 15:04 MST")
		if err := s.outbox.enqueue(ctx, r.notifications, notify.TypeTransferInvitation, email, notify.Payload{
			OrganizationName: org.Name,
			RequesterName:    requester.Name,
			AcceptURL:        transfer.AcceptURL(s.opts.SiteURL, token),
			ExpiresAt:        expires,
			TransferID:       tr.ID,
		}); err != nil {
			return err
		}
		if err := s.outbox.enqueue(ctx, r.notifications, notify.TypeTransferAdminNotice, s.opts.AdminAddress, notify.Payload{
			OrganizationName: org.Name,
			RequesterName:    requester.Name,
			RequesterEmail:   requester.Email,
			NewContactEmail:  email,
			ExpiresAt:        expires,
			TransferID:       tr.ID,
		}); err != nil {
			return err
		}

		if err := r.audit.Record(ctx, &requester.ID, &org.ID, "transfer.initiated", "transfer", tr.ID, map[string]interface{}{
			"new_contact_email": email,
			"expires_at":        tr.ExpiresAt,
		}); err != nil {
			return err
		}

		created = tr
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(created, transfer.StatusPending)
	return created, nil
}

// Accept marks a pending transfer accepted by the invited person, located by the
// token from the invitation link. actorID is the signed-in profile, if any; when
// set it must belong to the invited address.
func (s *TransferService) Accept(ctx context.Context, token string, actorID *string) (*models.TransferRequest, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, validationError("token is required")
	}

	now := s.now()
	var (
		result  *models.TransferRequest
		expired bool
	)

	err := db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		r := newTxRepos(tx)

		tr, err := r.transfers.GetByTokenHash(ctx, transfer.HashToken(token))
		if err != nil {
			return err
		}
		if tr == nil {
			return ErrNotFound
		}
		if err := transfer.Transition(tr.Status, transfer.StatusAccepted); err != nil {
			return err
		}
		if tr.IsExpired(now) {
			expired = true
			result = tr
			return s.expireTx(ctx, r, tr, nil, true)
		}

		profile, err := r.profiles.GetByEmail(ctx, tr.NewContactEmail)
		if err != nil {
			return err
		}
		if profile == nil {
			return ErrNewUserRequired
		}
		if actorID != nil && *actorID != profile.ID {
			return ErrForbidden
		}

		if err := s.updateStatus(ctx, r, tr, repositories.StatusUpdate{
			Status:       transfer.StatusAccepted,
			NewContactID: &profile.ID,
		}); err != nil {
			return err
		}

		org, err := r.orgs.GetByID(ctx, tr.OrganizationID)
		if err != nil {
			return err
		}
		orgName := ""
		if org != nil {
			orgName = org.Name
		}
		if err := s.outbox.enqueue(ctx, r.notifications, notify.TypeTransferAccepted, s.opts.AdminAddress, notify.Payload{
			OrganizationName: orgName,
			NewContactName:   profile.Name,
			NewContactEmail:  profile.Email,
			TransferID:       tr.ID,
		}); err != nil {
			return err
		}

		if err := r.audit.Record(ctx, &profile.ID, &tr.OrganizationID, "transfer.accepted", "transfer", tr.ID, nil); err != nil {
			return err
		}

		result = tr
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired {
		s.committed(result, transfer.StatusExpired)
		return nil, ErrTransferExpired
	}
	s.committed(result, transfer.StatusAccepted)
	return result, nil
}

// Cancel withdraws a pending transfer. Only the requester may cancel; the
// organization is not touched.
func (s *TransferService) Cancel(ctx context.Context, id, requesterID string) (*models.TransferRequest, error) {
	var result *models.TransferRequest

	err := db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		r := newTxRepos(tx)

		tr, err := r.transfers.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if tr == nil {
			return ErrNotFound
		}
		if tr.RequestedBy != requesterID {
			return ErrForbidden
		}
		if err := transfer.Transition(tr.Status, transfer.StatusCancelled); err != nil {
			return err
		}

		if err := s.updateStatus(ctx, r, tr, repositories.StatusUpdate{Status: transfer.StatusCancelled}); err != nil {
			return err
		}

		org, err := r.orgs.GetByID(ctx, tr.OrganizationID)
		if err != nil {
			return err
		}
		if org != nil {
			if err := s.outbox.enqueue(ctx, r.notifications, notify.TypeTransferCancelled, tr.NewContactEmail, notify.Payload{
				OrganizationName: org.Name,
				NewContactEmail:  tr.NewContactEmail,
				TransferID:       tr.ID,
			}); err != nil {
				return err
			}
		}

		if err := r.audit.Record(ctx, &requesterID, &tr.OrganizationID, "transfer.cancelled", "transfer", tr.ID, nil); err != nil {
			return err
		}

		result = tr
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(result, transfer.StatusCancelled)
	return result, nil
}

// Approve completes a pending or accepted transfer in one transaction: the
// organization's contact is reassigned, the organization name is copied onto the
// new contact's profile, the transfer is marked completed and both parties are
// queued a notification. A concurrent writer that got there first turns this call
// into ErrVersionConflict.
func (s *TransferService) Approve(ctx context.Context, id, adminID string) (*models.TransferRequest, error) {
	now := s.now()
	var (
		result  *models.TransferRequest
		expired bool
	)

	err := db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		r := newTxRepos(tx)

		tr, err := r.transfers.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if tr == nil {
			return ErrNotFound
		}
		if err := transfer.Transition(tr.Status, transfer.StatusCompleted); err != nil {
			return err
		}
		if tr.IsExpired(now) {
			if !transfer.CanTransition(tr.Status, transfer.StatusExpired) {
				return ErrTransferExpired
			}
			expired = true
			result = tr
			return s.expireTx(ctx, r, tr, &adminID, true)
		}

		var newContact *models.Profile
		if tr.NewContactID != nil {
			newContact, err = r.profiles.GetByID(ctx, *tr.NewContactID)
		} else {
			newContact, err = r.profiles.GetByEmail(ctx, tr.NewContactEmail)
		}
		if err != nil {
			return err
		}
		if newContact == nil {
			return ErrNewUserRequired
		}

		org, err := r.orgs.GetByIDForUpdate(ctx, tr.OrganizationID)
		if err != nil {
			return err
		}
		if org == nil {
			return ErrNotFound
		}
		oldContactID := org.ContactPersonID

		ok, err := r.orgs.UpdateContactPerson(ctx, org.ID, oldContactID, newContact.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrVersionConflict
		}
		if err := r.profiles.UpdateOrganizationName(ctx, newContact.ID, &org.Name); err != nil {
			return err
		}

		completedAt := now
		if err := s.updateStatus(ctx, r, tr, repositories.StatusUpdate{
			Status:       transfer.StatusCompleted,
			NewContactID: &newContact.ID,
			CompletedAt:  &completedAt,
		}); err != nil {
			return err
		}

		var oldContact *models.Profile
		if oldContactID != nil {
			if oldContact, err = r.profiles.GetByID(ctx, *oldContactID); err != nil {
				return err
			}
		}
		oldName := ""
		if oldContact != nil {
			oldName = oldContact.Name
			if err := s.outbox.enqueue(ctx, r.notifications, notify.TypeTransferCompletedOldContact, oldContact.Email, notify.Payload{
				OrganizationName: org.Name,
				RecipientName:    oldContact.Name,
				NewContactName:   newContact.Name,
				NewContactEmail:  newContact.Email,
				TransferID:       tr.ID,
			}); err != nil {
				return err
			}
		}
		if err := s.outbox.enqueue(ctx, r.notifications, notify.TypeTransferCompletedNewContact, newContact.Email, notify.Payload{
			OrganizationName: org.Name,
			RecipientName:    newContact.Name,
			OldContactName:   oldName,
			TransferID:       tr.ID,
		}); err != nil {
			return err
		}

		metadata := map[string]interface{}{"new_contact_id": newContact.ID}
		if oldContactID != nil {
			metadata["old_contact_id"] = *oldContactID
		}
		if err := r.audit.Record(ctx, &adminID, &org.ID, "transfer.completed", "transfer", tr.ID, metadata); err != nil {
			return err
		}

		result = tr
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired {
		s.committed(result, transfer.StatusExpired)
		return nil, ErrTransferExpired
	}
	s.committed(result, transfer.StatusCompleted)
	return result, nil
}

// Reject declines a pending transfer and tells the requester why
func (s *TransferService) Reject(ctx context.Context, id, adminID, reason string) (*models.TransferRequest, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxRejectionReasonLen {
		return nil, validationError(fmt.Sprintf("reason must be at most %d characters", maxRejectionReasonLen))
	}

	var result *models.TransferRequest

	err := db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		r := newTxRepos(tx)

		tr, err := r.transfers.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if tr == nil {
			return ErrNotFound
		}
		if err := transfer.Transition(tr.Status, transfer.StatusRejected); err != nil {
			return err
		}

		u := repositories.StatusUpdate{Status: transfer.StatusRejected}
		if reason != "" {
			u.RejectionReason = &reason
		}
		if err := s.updateStatus(ctx, r, tr, u); err != nil {
			return err
		}

		if err := s.notifyRequester(ctx, r, tr, notify.TypeTransferRejected, reason); err != nil {
			return err
		}

		if err := r.audit.Record(ctx, &adminID, &tr.OrganizationID, "transfer.rejected", "transfer", tr.ID, map[string]interface{}{
			"reason": reason,
		}); err != nil {
			return err
		}

		result = tr
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(result, transfer.StatusRejected)
	return result, nil
}

// ExpireStale moves every pending transfer past its horizon to expired and
// returns how many were expired. Records changed concurrently are skipped.
func (s *TransferService) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.transfers.ListExpiredPending(ctx, now, expireBatchSize)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, tr := range stale {
		err := db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
			return s.expireTx(ctx, newTxRepos(tx), tr, nil, true)
		})
		switch {
		case err == nil:
			count++
			s.committed(tr, transfer.StatusExpired)
		case errors.Is(err, ErrVersionConflict), errors.Is(err, transfer.ErrIllegalTransition):
			slog.Debug("transfer changed before it could be expired", "transfer_id", tr.ID)
		default:
			return count, err
		}
	}
	return count, nil
}

// Get returns a transfer visible to the viewer: admins see everything, other
// profiles only transfers they requested, hold the contact role in, or were invited to.
func (s *TransferService) Get(ctx context.Context, id string, viewer Viewer) (*models.TransferRequest, error) {
	tr, err := s.transfers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, ErrNotFound
	}
	if !viewer.IsAdmin && !tr.InvolvesProfile(viewer.ProfileID) {
		return nil, ErrForbidden
	}
	return tr, nil
}

// List returns transfers for the admin view
func (s *TransferService) List(ctx context.Context, filters repositories.TransferFilters, limit, offset int) ([]*models.TransferRequest, int, error) {
	return s.transfers.ListTransfers(ctx, filters, limit, offset)
}

// expireTx moves tr to expired inside the caller's transaction. actorID is nil
// for the sweeper and lazy expiry on accept.
func (s *TransferService) expireTx(ctx context.Context, r txRepos, tr *models.TransferRequest, actorID *string, notifyRequester bool) error {
	if err := transfer.Transition(tr.Status, transfer.StatusExpired); err != nil {
		return err
	}
	if err := s.updateStatus(ctx, r, tr, repositories.StatusUpdate{Status: transfer.StatusExpired}); err != nil {
		return err
	}
	if notifyRequester {
		if err := s.notifyRequester(ctx, r, tr, notify.TypeTransferExpired, ""); err != nil {
			return err
		}
	}
	return r.audit.Record(ctx, actorID, &tr.OrganizationID, "transfer.expired", "transfer", tr.ID, map[string]interface{}{
		"expires_at": tr.ExpiresAt,
	})
}

// updateStatus writes a status change and maps a lost version race to ErrVersionConflict
func (s *TransferService) updateStatus(ctx context.Context, r txRepos, tr *models.TransferRequest, u repositories.StatusUpdate) error {
	if err := r.transfers.UpdateStatus(ctx, tr, u); err != nil {
		if errors.Is(err, repositories.ErrStaleVersion) {
			return ErrVersionConflict
		}
		return err
	}
	return nil
}

func (s *TransferService) notifyRequester(ctx context.Context, r txRepos, tr *models.TransferRequest, typ, reason string) error {
	requester, err := r.profiles.GetByID(ctx, tr.RequestedBy)
	if err != nil {
		return err
	}
	if requester == nil {
		return nil
	}
	org, err := r.orgs.GetByID(ctx, tr.OrganizationID)
	if err != nil {
		return err
	}
	orgName := ""
	if org != nil {
		orgName = org.Name
	}
	return s.outbox.enqueue(ctx, r.notifications, typ, requester.Email, notify.Payload{
		OrganizationName: orgName,
		RecipientName:    requester.Name,
		NewContactEmail:  tr.NewContactEmail,
		Reason:           reason,
		TransferID:       tr.ID,
	})
}

// committed runs the after-commit side effects of a status change
func (s *TransferService) committed(tr *models.TransferRequest, status transfer.Status) {
	telemetry.TransferTransitionsTotal.WithLabelValues(string(status)).Inc()
	slog.Info("transfer status changed", "transfer_id", tr.ID, "organization_id", tr.OrganizationID, "status", status)
	s.kicker.Kick()
}

// normalizeAddress validates a bare email address and returns it lower-cased
func normalizeAddress(raw string) (string, error) {
	email := repositories.NormalizeEmail(raw)
	if email == "" {
		return "", validationError("new_contact_email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", validationError("new_contact_email is not a valid email address")
	}
	return email, nil
}
