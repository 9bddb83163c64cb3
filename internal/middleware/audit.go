// audit.go records mutating API requests in audit_logs (the input of the usage
// datacube) and forwards them to the configured external shippers.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/audit"
	"github.com/consortium-members/membership-backend/internal/config"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/safego"
)

// resourceTypes maps the first route segment after /api/v1 (or /api/v1/admin)
// to an audit resource type.
var resourceTypes = map[string]string{
	"transfers":     "transfer",
	"organizations": "organization",
	"apikeys":       "api_key",
	"notifications": "notification",
	"analytics":     "analytics",
	"auth":          "session",
}

// AuditMiddleware writes one audit row per request that passes the filter in
// cfg, after the handler has run. Writes happen off the request goroutine.
// repo or shipper may be nil.
func AuditMiddleware(repo *repositories.AuditRepository, shipper audit.Shipper, cfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if !shouldAudit(c.Request.Method, c.Writer.Status(), cfg) {
			return
		}

		route := c.FullPath()
		if route == "" {
			return
		}

		entry := &audit.Event{
			Timestamp:    time.Now().UTC(),
			Action:       c.Request.Method + " " + route,
			ResourceType: resourceTypeFor(route),
			ResourceID:   c.Param("id"),
			IPAddress:    c.ClientIP(),
			AuthMethod:   c.GetString(ContextAuthMethod),
			RequestID:    RequestIDFromContext(c),
			StatusCode:   c.Writer.Status(),
		}
		entry.UserID, _ = UserIDFromContext(c)
		entry.Metadata = map[string]interface{}{"status_code": entry.StatusCode}
		if entry.AuthMethod != "" {
			entry.Metadata["auth_method"] = entry.AuthMethod
		}
		if entry.RequestID != "" {
			entry.Metadata["request_id"] = entry.RequestID
		}

		safego.Go("audit-log", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			recordAudit(ctx, repo, shipper, entry)
		})
	}
}

// shouldAudit applies the read/failed filters. Without config only successful
// mutations are recorded.
func shouldAudit(method string, status int, cfg *config.AuditConfig) bool {
	if method == http.MethodOptions || method == http.MethodHead {
		return false
	}
	isRead := method == http.MethodGet
	failed := status >= 400

	if cfg == nil {
		return !isRead && !failed
	}
	if !cfg.Enabled {
		return false
	}
	if isRead && !cfg.LogReadOperations {
		return false
	}
	if failed && !cfg.LogFailedRequests {
		return false
	}
	return true
}

func resourceTypeFor(route string) string {
	rest := strings.TrimPrefix(route, "/api/v1/")
	rest = strings.TrimPrefix(rest, "admin/")
	segment, _, _ := strings.Cut(rest, "/")
	return resourceTypes[segment]
}

func recordAudit(ctx context.Context, repo *repositories.AuditRepository, shipper audit.Shipper, entry *audit.Event) {
	if repo != nil {
		row := &models.AuditLog{
			Action:    entry.Action,
			IPAddress: optional(entry.IPAddress),
			Metadata:  entry.Metadata,
		}
		row.UserID = optional(entry.UserID)
		row.ResourceType = optional(entry.ResourceType)
		row.ResourceID = optional(entry.ResourceID)
		if err := repo.Insert(ctx, row); err != nil {
			slog.Error("failed to write audit log", "action", entry.Action, "error", err)
		}
	}
	if shipper != nil {
		if err := shipper.Ship(ctx, entry); err != nil {
			slog.Warn("failed to ship audit log", "action", entry.Action, "error", err)
		}
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
