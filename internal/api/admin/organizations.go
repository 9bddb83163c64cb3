// organizations.go implements organization registration and the admin review of registrations.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/api/response"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/middleware"
)

// OrganizationWorkflow is the part of services.OrganizationService the handlers use.
type OrganizationWorkflow interface {
	Register(ctx context.Context, name, requesterID string) (*models.Organization, error)
	Approve(ctx context.Context, id, adminID string) (*models.Organization, error)
	Reject(ctx context.Context, id, adminID, reason string) (*models.Organization, error)
	Get(ctx context.Context, id string) (*models.Organization, error)
	List(ctx context.Context, status string, limit, offset int) ([]*models.Organization, int, error)
}

// OrganizationHandlers handles organization endpoints
type OrganizationHandlers struct {
	orgs OrganizationWorkflow
}

// NewOrganizationHandlers creates a new OrganizationHandlers instance
func NewOrganizationHandlers(orgs OrganizationWorkflow) *OrganizationHandlers {
	return &OrganizationHandlers{orgs: orgs}
}

// RegisterOrganizationRequest is the body of POST /api/v1/organizations
type RegisterOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

// RejectRequest carries the reason for rejecting a registration
type RejectRequest struct {
	Reason string `json:"reason" binding:"required,max=1000"`
}

// @Summary      Register an organization
// @Description  Registers a member institution. It starts pending and the caller becomes its primary contact.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterOrganizationRequest  true  "Organization name"
// @Success      201  {object}  map[string]interface{}  "Pending organization"
// @Failure      409  {object}  map[string]interface{}  "An organization with this name already exists"
// @Router       /api/v1/organizations [post]
func (h *OrganizationHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			response.Fail(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
			return
		}

		var req RegisterOrganizationRequest
		if !response.BindJSON(c, &req) {
			return
		}

		org, err := h.orgs.Register(c.Request.Context(), req.Name, userID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusCreated, gin.H{"organization": org})
	}
}

// GetHandler returns one organization
// GET /api/v1/organizations/:id
func (h *OrganizationHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := response.ParamID(c, "id")
		if !ok {
			return
		}
		org, err := h.orgs.Get(c.Request.Context(), id)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusOK, gin.H{"organization": org})
	}
}

// @Summary      List organizations
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        status  query  string  false  "pending, approved or rejected"
// @Param        limit   query  int     false  "Page size"
// @Param        offset  query  int     false  "Page offset"
// @Success      200  {object}  map[string]interface{}  "Organizations and total count"
// @Router       /api/v1/admin/organizations [get]
func (h *OrganizationHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := response.Pagination(c)
		orgs, total, err := h.orgs.List(c.Request.Context(), c.Query("status"), limit, offset)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusOK, gin.H{
			"organizations": orgs,
			"pagination":    gin.H{"total": total, "limit": limit, "offset": offset},
		})
	}
}

// ApproveHandler approves a pending registration
// POST /api/v1/admin/organizations/:id/approve
func (h *OrganizationHandlers) ApproveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := response.ParamID(c, "id")
		if !ok {
			return
		}
		adminID, _ := middleware.UserIDFromContext(c)
		org, err := h.orgs.Approve(c.Request.Context(), id, adminID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusOK, gin.H{"organization": org})
	}
}

// RejectHandler rejects a pending registration with a reason sent to the contact
// POST /api/v1/admin/organizations/:id/reject
func (h *OrganizationHandlers) RejectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := response.ParamID(c, "id")
		if !ok {
			return
		}
		var req RejectRequest
		if !response.BindJSON(c, &req) {
			return
		}
		adminID, _ := middleware.UserIDFromContext(c)
		org, err := h.orgs.Reject(c.Request.Context(), id, adminID, req.Reason)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusOK, gin.H{"organization": org})
	}
}
