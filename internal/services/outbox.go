// Package services implements the membership workflows that coordinate several
// repositories inside one database transaction: the contact transfer lifecycle,
// organization registration and bulk notification. Email is never sent from here;
// services write notification rows to the outbox in the same transaction as the
// change that caused them and wake the dispatcher after commit.
package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/consortium-members/membership-backend/internal/crypto"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/notify"
	"github.com/consortium-members/membership-backend/internal/telemetry"
)

// Kicker wakes the outbox dispatcher so freshly committed notifications go out
// without waiting for the next poll.
type Kicker interface {
	Kick()
}

type noopKicker struct{}

func (noopKicker) Kick() {}

// outbox writes notification rows, sealing the payload when a cipher is configured
type outbox struct {
	cipher *crypto.PayloadCipher
}

func (o outbox) seal(p notify.Payload) (string, error) {
	if o.cipher != nil {
		return o.cipher.SealJSON(p)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(raw), nil
}

// enqueue adds one notification through repo, which must be bound to the caller's tx
func (o outbox) enqueue(ctx context.Context, repo *repositories.NotificationRepository, typ, recipient string, p notify.Payload) error {
	if recipient == "" {
		return nil
	}
	payload, err := o.seal(p)
	if err != nil {
		return err
	}
	n := &models.Notification{Type: typ, Recipient: recipient, Payload: payload}
	if err := repo.Enqueue(ctx, n); err != nil {
		return err
	}
	telemetry.NotificationsEnqueuedTotal.WithLabelValues(typ).Inc()
	return nil
}

// txRepos is the set of repositories bound to one transaction
type txRepos struct {
	orgs          *repositories.OrganizationRepository
	profiles      *repositories.ProfileRepository
	transfers     *repositories.TransferRepository
	notifications *repositories.NotificationRepository
	audit         *repositories.AuditRepository
}

func newTxRepos(tx repositories.DBTX) txRepos {
	return txRepos{
		orgs:          repositories.NewOrganizationRepository(tx),
		profiles:      repositories.NewProfileRepository(tx),
		transfers:     repositories.NewTransferRepository(tx),
		notifications: repositories.NewNotificationRepository(tx),
		audit:         repositories.NewAuditRepository(tx),
	}
}

func strPtr(s string) *string { return &s }
