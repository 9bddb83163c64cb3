// audit.go implements the admin audit log browser.
package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/api/response"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
)

// AuditHandlers serves /api/v1/admin/audit-logs
type AuditHandlers struct {
	audit *repositories.AuditRepository
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(audit *repositories.AuditRepository) *AuditHandlers {
	return &AuditHandlers{audit: audit}
}

// ListAuditLogsQuery filters the audit log list. Dates are RFC3339.
type ListAuditLogsQuery struct {
	UserID         string     `form:"user_id" binding:"omitempty,uuid"`
	OrganizationID string     `form:"organization_id" binding:"omitempty,uuid"`
	Action         string     `form:"action"`
	ResourceType   string     `form:"resource_type"`
	StartDate      *time.Time `form:"start_date" time_format:"2006-01-02T15:04:05Z07:00"`
	EndDate        *time.Time `form:"end_date" time_format:"2006-01-02T15:04:05Z07:00"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// @Summary      List audit logs
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        user_id          query  string  false  "Actor profile ID"
// @Param        organization_id  query  string  false  "Organization ID"
// @Param        action           query  string  false  "Exact action, e.g. transfer.completed"
// @Param        resource_type    query  string  false  "transfer, organization, api_key, ..."
// @Param        start_date       query  string  false  "RFC3339 lower bound"
// @Param        end_date         query  string  false  "RFC3339 upper bound"
// @Success      200  {object}  map[string]interface{}  "Audit logs and total count"
// @Router       /api/v1/admin/audit-logs [get]
func (h *AuditHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q ListAuditLogsQuery
		if !response.BindQuery(c, &q) {
			return
		}
		if q.StartDate != nil && q.EndDate != nil && q.EndDate.Before(*q.StartDate) {
			response.Fail(c, http.StatusBadRequest, "validation_error", "end_date must not be before start_date")
			return
		}

		filters := repositories.AuditFilters{
			UserID:         optional(q.UserID),
			OrganizationID: optional(q.OrganizationID),
			Action:         optional(q.Action),
			ResourceType:   optional(q.ResourceType),
			StartDate:      q.StartDate,
			EndDate:        q.EndDate,
		}

		limit, offset := response.Pagination(c)
		logs, total, err := h.audit.List(c.Request.Context(), filters, limit, offset)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusOK, gin.H{
			"audit_logs": logs,
			"pagination": gin.H{"total": total, "limit": limit, "offset": offset},
		})
	}
}

// GetHandler returns one audit log entry
// GET /api/v1/admin/audit-logs/:id
func (h *AuditHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := response.ParamID(c, "id")
		if !ok {
			return
		}
		entry, err := h.audit.GetByID(c.Request.Context(), id)
		if err != nil {
			response.Error(c, err)
			return
		}
		if entry == nil {
			response.Fail(c, http.StatusNotFound, "not_found", "Audit log not found")
			return
		}
		response.OK(c, http.StatusOK, gin.H{"audit_log": entry})
	}
}
