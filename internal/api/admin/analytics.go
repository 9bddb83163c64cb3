// analytics.go exposes the system usage datacube: read access to the cube and a
// manual rebuild for when an admin cannot wait for the nightly refresh.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/api/response"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
)

const (
	defaultUsageLimit = 500
	maxUsageLimit     = 5000
	dayLayout         = "2006-01-02"
)

// CubeRefresher rebuilds the usage cube. *jobs.AnalyticsRefresher implements it.
type CubeRefresher interface {
	Refresh(ctx context.Context) (int64, error)
}

// AnalyticsHandlers serves /api/v1/admin/analytics
type AnalyticsHandlers struct {
	analytics *repositories.AnalyticsRepository
	refresher CubeRefresher
}

// NewAnalyticsHandlers creates AnalyticsHandlers. refresher may be nil when analytics is disabled.
func NewAnalyticsHandlers(analytics *repositories.AnalyticsRepository, refresher CubeRefresher) *AnalyticsHandlers {
	return &AnalyticsHandlers{analytics: analytics, refresher: refresher}
}

// UsageQuery filters the cube. Dates are calendar days (YYYY-MM-DD), inclusive.
type UsageQuery struct {
	From           string `form:"from"`
	To             string `form:"to"`
	Action         string `form:"action"`
	OrganizationID string `form:"organization_id"`
}

func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse(dayLayout, s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// @Summary      System usage
// @Description  Daily event counts per action, resource type and organization, as of the last cube refresh
// @Tags         Analytics
// @Security     Bearer
// @Produce      json
// @Param        from             query  string  false  "First day, YYYY-MM-DD"
// @Param        to               query  string  false  "Last day, YYYY-MM-DD"
// @Param        action           query  string  false  "Action filter"
// @Param        organization_id  query  string  false  "Organization filter"
// @Param        limit            query  int     false  "Maximum cells"
// @Success      200  {object}  map[string]interface{}  "Cube cells and totals"
// @Router       /api/v1/admin/analytics/usage [get]
func (h *AnalyticsHandlers) UsageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q UsageQuery
		if !response.BindQuery(c, &q) {
			return
		}
		from, err := parseDay(q.From)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, "validation_error", "from must be a date in YYYY-MM-DD format")
			return
		}
		to, err := parseDay(q.To)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, "validation_error", "to must be a date in YYYY-MM-DD format")
			return
		}

		limit := defaultUsageLimit
		if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
			limit = v
		}
		if limit > maxUsageLimit {
			limit = maxUsageLimit
		}

		rows, err := h.analytics.ListUsage(c.Request.Context(), repositories.UsageFilters{
			From:           from,
			To:             to,
			Action:         optional(q.Action),
			OrganizationID: optional(q.OrganizationID),
		}, limit)
		if err != nil {
			response.Error(c, err)
			return
		}

		var events int64
		var refreshedAt *time.Time
		for _, r := range rows {
			events += r.EventCount
			if refreshedAt == nil || r.RefreshedAt.After(*refreshedAt) {
				t := r.RefreshedAt
				refreshedAt = &t
			}
		}

		response.OK(c, http.StatusOK, gin.H{
			"usage":        rows,
			"total_events": events,
			"refreshed_at": refreshedAt,
		})
	}
}

// RefreshHandler rebuilds the cube synchronously
// POST /api/v1/admin/analytics/refresh
func (h *AnalyticsHandlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.refresher == nil {
			response.Fail(c, http.StatusServiceUnavailable, "analytics_disabled", "Analytics is disabled")
			return
		}

		start := time.Now()
		n, err := h.refresher.Refresh(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		slog.Info("analytics cube refreshed on demand", "rows", n, "duration", time.Since(start))
		response.OK(c, http.StatusOK, gin.H{"rows": n})
	}
}
