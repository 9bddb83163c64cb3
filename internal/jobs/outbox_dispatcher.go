// outbox_dispatcher.go implements the OutboxDispatcher background job, which delivers
// notification rows written by the services layer. Rows are claimed with
// FOR UPDATE SKIP LOCKED inside one transaction per batch, so several server replicas
// can drain the outbox concurrently without double-sending. Sends are paced by a
// token bucket to honour the mail provider's rate limit. Delivery is at-least-once:
// a crash between the SMTP hand-off and the commit re-sends the affected rows.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/time/rate"

	"github.com/consortium-members/membership-backend/internal/config"
	"github.com/consortium-members/membership-backend/internal/crypto"
	"github.com/consortium-members/membership-backend/internal/db"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/notify"
	"github.com/consortium-members/membership-backend/internal/storage"
	"github.com/consortium-members/membership-backend/internal/telemetry"
)

const (
	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = time.Hour
)

// errPermanent marks failures that retrying cannot fix (bad payload, unknown type).
var errPermanent = errors.New("permanent delivery failure")

// OutboxDispatcher sends pending notifications from the outbox table.
type OutboxDispatcher struct {
	db            *sqlx.DB
	cipher        *crypto.PayloadCipher
	mailer        notify.Mailer
	archive       storage.Archive
	archivePrefix string
	from          string

	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	limiter      *rate.Limiter

	kick     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// NewOutboxDispatcher creates a dispatcher. archive may be nil to skip archiving;
// cipher must match the one the services layer seals payloads with (nil for plain JSON).
func NewOutboxDispatcher(
	database *sqlx.DB,
	cipher *crypto.PayloadCipher,
	mailer notify.Mailer,
	archive storage.Archive,
	archivePrefix string,
	cfg *config.NotificationsConfig,
) *OutboxDispatcher {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 20
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.SendInterval > 0 {
		limit = rate.Every(cfg.SendInterval)
	}

	return &OutboxDispatcher{
		db:            database,
		cipher:        cipher,
		mailer:        mailer,
		archive:       archive,
		archivePrefix: archivePrefix,
		from:          cfg.SMTP.From,
		batchSize:     batch,
		maxAttempts:   attempts,
		pollInterval:  poll,
		limiter:       rate.NewLimiter(limit, 1),
		kick:          make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		now:           time.Now,
	}
}

// Kick wakes the dispatcher without waiting for the next poll. It never blocks.
func (d *OutboxDispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Start runs the dispatch loop until ctx is cancelled or Stop is called.
func (d *OutboxDispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	slog.Info("outbox dispatcher started", "poll_interval", d.pollInterval, "batch_size", d.batchSize)

	d.drain(ctx)
	for {
		select {
		case <-ticker.C:
			d.drain(ctx)
		case <-d.kick:
			d.drain(ctx)
		case <-d.stopChan:
			slog.Info("outbox dispatcher stopped")
			return
		case <-ctx.Done():
			slog.Info("outbox dispatcher context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (d *OutboxDispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
}

// drain processes full batches until the outbox has nothing due.
func (d *OutboxDispatcher) drain(ctx context.Context) {
	for {
		claimed, err := d.RunOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("outbox dispatch failed", "error", err)
			}
			return
		}
		if claimed < d.batchSize {
			return
		}
	}
}

// RunOnce claims one batch of due notifications and attempts each. It returns the
// number of rows claimed.
func (d *OutboxDispatcher) RunOnce(ctx context.Context) (int, error) {
	var claimed int
	err := db.WithTx(ctx, d.db, func(tx *sqlx.Tx) error {
		repo := repositories.NewNotificationRepository(tx)

		due, err := repo.ClaimDue(ctx, d.now(), d.batchSize)
		if err != nil {
			return err
		}
		claimed = len(due)

		for _, n := range due {
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := d.process(ctx, repo, n); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

// process delivers one row and records the outcome. Only persistence errors are returned.
func (d *OutboxDispatcher) process(ctx context.Context, repo *repositories.NotificationRepository, n *models.Notification) error {
	msg, err := d.render(n)
	if err == nil {
		err = d.mailer.Send(ctx, msg)
	}

	if err != nil {
		telemetry.NotificationsFailedTotal.WithLabelValues(n.Type).Inc()
		retryAt := d.nextAttempt(n, err)
		if retryAt == nil {
			slog.Warn("notification abandoned", "id", n.ID, "type", n.Type, "attempts", n.Attempts+1, "error", err)
		} else {
			slog.Warn("notification delivery failed, will retry", "id", n.ID, "type", n.Type, "retry_at", retryAt, "error", err)
		}
		return repo.MarkAttemptFailed(ctx, n.ID, err.Error(), retryAt)
	}

	sentAt := d.now()
	archiveKey := d.archiveMessage(ctx, n, msg, sentAt)
	telemetry.NotificationsSentTotal.WithLabelValues(n.Type).Inc()
	return repo.MarkSent(ctx, n.ID, sentAt, archiveKey)
}

func (d *OutboxDispatcher) render(n *models.Notification) (*notify.Message, error) {
	var p notify.Payload
	if d.cipher != nil {
		if err := d.cipher.OpenJSON(n.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: open payload: %v", errPermanent, err)
		}
	} else if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", errPermanent, err)
	}

	subject, body, err := notify.Render(n.Type, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPermanent, err)
	}
	return notify.NewMessage(d.from, n.Recipient, subject, body, d.now()), nil
}

// nextAttempt returns when to retry, or nil to give up.
func (d *OutboxDispatcher) nextAttempt(n *models.Notification, err error) *time.Time {
	if errors.Is(err, errPermanent) || n.Attempts+1 >= d.maxAttempts {
		return nil
	}
	at := d.now().Add(backoff(n.Attempts))
	return &at
}

// backoff doubles from retryBaseDelay per prior attempt, capped at retryMaxDelay.
func backoff(attempts int) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

// archiveMessage stores the sent message. Failures are logged, never fatal: the
// mail has already left.
func (d *OutboxDispatcher) archiveMessage(ctx context.Context, n *models.Notification, msg *notify.Message, sentAt time.Time) *string {
	if d.archive == nil {
		return nil
	}
	key := storage.MessageKey(d.archivePrefix, sentAt, n.ID)
	raw := msg.Bytes()
	if _, err := d.archive.Put(ctx, key, bytes.NewReader(raw), int64(len(raw))); err != nil {
		slog.Warn("failed to archive notification", "id", n.ID, "key", key, "error", err)
		return nil
	}
	return &key
}
