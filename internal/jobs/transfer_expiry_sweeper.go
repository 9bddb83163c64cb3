// transfer_expiry_sweeper.go implements the TransferExpirySweeper background job.
// Expiry is also enforced lazily whenever a transfer is touched; the sweeper makes
// sure abandoned invitations are closed out and their requesters told even if
// nobody ever follows the link.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StaleExpirer expires pending transfers whose deadline has passed.
type StaleExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// TransferExpirySweeper periodically expires stale pending transfers.
type TransferExpirySweeper struct {
	expirer  StaleExpirer
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTransferExpirySweeper creates a sweeper. interval defaults to one hour.
func NewTransferExpirySweeper(expirer StaleExpirer, interval time.Duration) *TransferExpirySweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &TransferExpirySweeper{
		expirer:  expirer,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one per interval, until ctx is
// cancelled or Stop is called.
func (s *TransferExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("transfer expiry sweeper started", "interval", s.interval)

	s.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			slog.Info("transfer expiry sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("transfer expiry sweeper context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (s *TransferExpirySweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *TransferExpirySweeper) sweep(ctx context.Context) {
	n, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		slog.Error("transfer expiry sweep failed", "error", err, "expired", n)
		return
	}
	if n > 0 {
		slog.Info("expired stale transfers", "count", n)
	}
}
