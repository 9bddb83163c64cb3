// analytics_refresher.go implements the AnalyticsRefresher job, which rebuilds the
// usage_cube table from audit_logs on a cron schedule. The rebuild is a full
// delete-and-reinsert inside one transaction, so readers always see either the
// previous cube or the new one.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"github.com/consortium-members/membership-backend/internal/config"
	"github.com/consortium-members/membership-backend/internal/db"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/telemetry"
)

// AnalyticsRefresher rebuilds the usage datacube.
type AnalyticsRefresher struct {
	db       *sqlx.DB
	schedule string
	lookback time.Duration

	// mu serialises scheduled and manual refreshes within this process
	mu   sync.Mutex
	cron *cron.Cron

	now func() time.Time
}

// NewAnalyticsRefresher creates a refresher from the analytics config section.
func NewAnalyticsRefresher(database *sqlx.DB, cfg *config.AnalyticsConfig) *AnalyticsRefresher {
	days := cfg.LookbackDays
	if days <= 0 {
		days = 365
	}
	return &AnalyticsRefresher{
		db:       database,
		schedule: cfg.RefreshSchedule,
		lookback: time.Duration(days) * 24 * time.Hour,
		now:      time.Now,
	}
}

// Start registers the refresh with a cron scheduler and starts it. The returned
// error reports an unparseable schedule.
func (a *AnalyticsRefresher) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(a.schedule, func() {
		if _, err := a.Refresh(ctx); err != nil {
			slog.Error("scheduled analytics refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid analytics refresh schedule %q: %w", a.schedule, err)
	}

	a.mu.Lock()
	a.cron = c
	a.mu.Unlock()

	c.Start()
	slog.Info("analytics refresher started", "schedule", a.schedule)
	return nil
}

// Stop halts the scheduler and waits for a running refresh to finish.
func (a *AnalyticsRefresher) Stop() {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Refresh rebuilds the cube now and returns the number of rows written.
func (a *AnalyticsRefresher) Refresh(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	refreshedAt := a.now().UTC()
	since := refreshedAt.Add(-a.lookback)

	var rows int64
	err := db.WithTx(ctx, a.db, func(tx *sqlx.Tx) error {
		repo := repositories.NewAnalyticsRepository(tx)
		if err := repo.ClearCube(ctx); err != nil {
			return err
		}
		n, err := repo.RebuildCube(ctx, since, refreshedAt)
		if err != nil {
			return err
		}
		rows = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	telemetry.AnalyticsRefreshDuration.Observe(time.Since(start).Seconds())
	slog.Info("analytics cube refreshed", "rows", rows, "since", since)
	return rows, nil
}
