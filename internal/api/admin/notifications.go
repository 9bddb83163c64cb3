// notifications.go implements admin broadcast email and the outbox view.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/api/response"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/middleware"
	"github.com/consortium-members/membership-backend/internal/services"
)

// Outbox is the part of services.NotificationService the handlers use.
type Outbox interface {
	SendBulk(ctx context.Context, in services.BulkInput) (int, error)
	List(ctx context.Context, status string, limit, offset int) ([]*models.Notification, int, error)
	Retry(ctx context.Context, id string) error
}

// NotificationHandlers serves /api/v1/admin/notifications
type NotificationHandlers struct {
	outbox Outbox
}

// NewNotificationHandlers creates a new NotificationHandlers instance
func NewNotificationHandlers(outbox Outbox) *NotificationHandlers {
	return &NotificationHandlers{outbox: outbox}
}

// BulkEmailRequest is the body of POST /api/v1/admin/notifications/bulk.
// Recipients and AllContacts may be combined; at least one must be given.
type BulkEmailRequest struct {
	Subject     string   `json:"subject" binding:"required,max=200"`
	Body        string   `json:"body" binding:"required"`
	Recipients  []string `json:"recipients" binding:"omitempty,max=5000,dive,email"`
	AllContacts bool     `json:"all_contacts"`
}

// @Summary      Send bulk email
// @Description  Queues one email per distinct recipient. Delivery is paced by the outbox dispatcher.
// @Tags         Notifications
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  BulkEmailRequest  true  "Message and recipients"
// @Success      202  {object}  map[string]interface{}  "Number of queued emails"
// @Failure      400  {object}  map[string]interface{}  "No recipients or invalid address"
// @Router       /api/v1/admin/notifications/bulk [post]
func (h *NotificationHandlers) BulkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BulkEmailRequest
		if !response.BindJSON(c, &req) {
			return
		}
		if len(req.Recipients) == 0 && !req.AllContacts {
			response.Fail(c, http.StatusBadRequest, "validation_error", "recipients or all_contacts is required")
			return
		}

		actorID, _ := middleware.UserIDFromContext(c)
		queued, err := h.outbox.SendBulk(c.Request.Context(), services.BulkInput{
			Subject:     req.Subject,
			Body:        req.Body,
			Recipients:  req.Recipients,
			AllContacts: req.AllContacts,
			ActorID:     actorID,
		})
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusAccepted, gin.H{"queued": queued})
	}
}

// ListHandler pages through the outbox
// GET /api/v1/admin/notifications?status=pending|sent|failed
func (h *NotificationHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := response.Pagination(c)
		items, total, err := h.outbox.List(c.Request.Context(), c.Query("status"), limit, offset)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusOK, gin.H{
			"notifications": items,
			"pagination":    gin.H{"total": total, "limit": limit, "offset": offset},
		})
	}
}

// RetryHandler requeues a failed notification
// POST /api/v1/admin/notifications/:id/retry
func (h *NotificationHandlers) RetryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := response.ParamID(c, "id")
		if !ok {
			return
		}
		if err := h.outbox.Retry(c.Request.Context(), id); err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusAccepted, gin.H{"message": "Notification requeued"})
	}
}
