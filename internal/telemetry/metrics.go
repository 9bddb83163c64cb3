// Package telemetry holds the process-wide Prometheus collectors and the slog
// setup. Collectors live on the default registry and are scraped from the
// side-channel server main.go starts on MBR_TELEMETRY_METRICS_PROMETHEUS_PORT;
// the Gin router never serves /metrics.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultDBStatsInterval is how often the pool gauges are resampled.
const DefaultDBStatsInterval = 30 * time.Second

// Request metrics. The path label is the Gin route template, never the raw URL.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served, by method, route template and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency, by method and route template.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "path"})
)

// TransferTransitionsTotal counts committed transfer status writes. Initiation
// counts as a transition to "pending".
var TransferTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "transfer_transitions_total",
	Help: "Committed transfer status changes, by target status.",
}, []string{"status"})

// Outbox counters, labelled by notification type. A failure is one attempt;
// the row is retried with backoff until it runs out of attempts.
var (
	NotificationsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_enqueued_total",
		Help: "Notifications written to the outbox, by type.",
	}, []string{"type"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Outbox notifications delivered, by type.",
	}, []string{"type"})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Failed notification delivery attempts, by type.",
	}, []string{"type"})
)

var AnalyticsRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "analytics_refresh_duration_seconds",
	Help:    "Duration of a full usage cube rebuild.",
	Buckets: prometheus.DefBuckets,
})

// DBConnections reports the connection pool by state: open, in_use or idle.
var DBConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "db_connections",
	Help: "Database pool connections, by state.",
}, []string{"state"})

// statsSource is the slice of *sql.DB the collector needs.
type statsSource interface {
	Stats() sql.DBStats
}

func recordDBStats(db statsSource) {
	s := db.Stats()
	DBConnections.WithLabelValues("open").Set(float64(s.OpenConnections))
	DBConnections.WithLabelValues("in_use").Set(float64(s.InUse))
	DBConnections.WithLabelValues("idle").Set(float64(s.Idle))
}

// StartDBStatsCollector samples pool statistics every interval until ctx is
// cancelled. Sampling does not touch the network, so a down database only
// shows up as a drop in open connections.
func StartDBStatsCollector(ctx context.Context, db statsSource, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultDBStatsInterval
	}
	recordDBStats(db)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("db stats collector stopped")
				return
			case <-ticker.C:
				recordDBStats(db)
			}
		}
	}()
}
