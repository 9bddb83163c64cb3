// transfers.go implements the admin review queue of contact transfers.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/api/response"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/middleware"
	"github.com/consortium-members/membership-backend/internal/transfer"
)

// TransferReview is the part of services.TransferService admins use.
type TransferReview interface {
	Approve(ctx context.Context, id, adminID string) (*models.TransferRequest, error)
	Reject(ctx context.Context, id, adminID, reason string) (*models.TransferRequest, error)
	List(ctx context.Context, filters repositories.TransferFilters, limit, offset int) ([]*models.TransferRequest, int, error)
}

// TransferHandlers handles /api/v1/admin/transfers
type TransferHandlers struct {
	review TransferReview
}

// NewTransferHandlers creates a new TransferHandlers instance
func NewTransferHandlers(review TransferReview) *TransferHandlers {
	return &TransferHandlers{review: review}
}

// ListTransfersQuery filters the admin transfer list
type ListTransfersQuery struct {
	Status         string `form:"status"`
	OrganizationID string `form:"organization_id" binding:"omitempty,uuid"`
}

// RejectTransferRequest is the body of POST /api/v1/admin/transfers/:id/reject
type RejectTransferRequest struct {
	Reason string `json:"reason" binding:"max=1000"`
}

// @Summary      List transfers
// @Tags         Transfers
// @Security     Bearer
// @Produce      json
// @Param        status           query  string  false  "pending, accepted, completed, rejected, cancelled or expired"
// @Param        organization_id  query  string  false  "Filter by organization"
// @Success      200  {object}  map[string]interface{}  "Transfers and total count"
// @Failure      400  {object}  map[string]interface{}  "Unknown status"
// @Router       /api/v1/admin/transfers [get]
func (h *TransferHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q ListTransfersQuery
		if !response.BindQuery(c, &q) {
			return
		}

		var filters repositories.TransferFilters
		if q.Status != "" {
			status, err := transfer.ParseStatus(q.Status)
			if err != nil {
				response.Fail(c, http.StatusBadRequest, "validation_error", err.Error())
				return
			}
			filters.Status = &status
		}
		if q.OrganizationID != "" {
			filters.OrganizationID = &q.OrganizationID
		}

		limit, offset := response.Pagination(c)
		items, total, err := h.review.List(c.Request.Context(), filters, limit, offset)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusOK, gin.H{
			"transfers":  items,
			"pagination": gin.H{"total": total, "limit": limit, "offset": offset},
		})
	}
}

// @Summary      Approve a transfer
// @Description  Completes an accepted transfer: the organization's primary contact becomes the new contact. A concurrent decision on the same transfer yields 409.
// @Tags         Transfers
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Transfer ID"
// @Success      200  {object}  map[string]interface{}  "Completed transfer"
// @Failure      400  {object}  map[string]interface{}  "Transfer is not awaiting approval"
// @Failure      409  {object}  map[string]interface{}  "Transfer already processed"
// @Router       /api/v1/admin/transfers/{id}/approve [post]
func (h *TransferHandlers) ApproveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := response.ParamID(c, "id")
		if !ok {
			return
		}
		adminID, _ := middleware.UserIDFromContext(c)
		tr, err := h.review.Approve(c.Request.Context(), id, adminID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusOK, gin.H{
			"transfer": tr,
			"message":  "Transfer approved",
		})
	}
}

// RejectHandler rejects a pending transfer. The reason is optional; an empty
// body is accepted.
// POST /api/v1/admin/transfers/:id/reject
func (h *TransferHandlers) RejectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := response.ParamID(c, "id")
		if !ok {
			return
		}
		var req RejectTransferRequest
		if c.Request.ContentLength != 0 && !response.BindJSON(c, &req) {
			return
		}
		adminID, _ := middleware.UserIDFromContext(c)
		tr, err := h.review.Reject(c.Request.Context(), id, adminID, req.Reason)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusOK, gin.H{"transfer": tr})
	}
}
