// Package transfers implements the member-facing HTTP handlers of the contact
// transfer workflow: starting a transfer, accepting the emailed invitation,
// withdrawing a request and reading one back. Admin decisions live in the admin package.
package transfers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/api/response"
	"github.com/consortium-members/membership-backend/internal/auth"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/middleware"
	"github.com/consortium-members/membership-backend/internal/services"
)

// AcceptAction is the action query value carried by the emailed acceptance link
const AcceptAction = "accept-transfer"

// Workflow is the part of services.TransferService the member endpoints use.
type Workflow interface {
	Initiate(ctx context.Context, in services.InitiateInput) (*models.TransferRequest, error)
	Accept(ctx context.Context, token string, actorID *string) (*models.TransferRequest, error)
	Cancel(ctx context.Context, id, requesterID string) (*models.TransferRequest, error)
	Get(ctx context.Context, id string, viewer services.Viewer) (*models.TransferRequest, error)
}

// Handlers serves /api/v1/transfers and the public acceptance link.
type Handlers struct {
	workflow Workflow
}

// NewHandlers creates transfer handlers
func NewHandlers(workflow Workflow) *Handlers {
	return &Handlers{workflow: workflow}
}

// CreateTransferRequest is the body of POST /api/v1/transfers
type CreateTransferRequest struct {
	OrganizationID  string `json:"organization_id" binding:"required,uuid"`
	NewContactEmail string `json:"new_contact_email" binding:"required,max=254"`
}

// AcceptTransferRequest is the body of POST /api/v1/transfers/accept
type AcceptTransferRequest struct {
	Token string `json:"token" binding:"required"`
}

// AcceptLinkQuery is the query string of GET /auth
type AcceptLinkQuery struct {
	Action string `form:"action" binding:"required"`
	Token  string `form:"token" binding:"required"`
}

// @Summary      Start a contact transfer
// @Description  The organization's current primary contact invites someone else to take over the role. The invitee receives an email with a single-use link.
// @Tags         Transfers
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateTransferRequest  true  "Transfer request"
// @Success      201  {object}  map[string]interface{}  "Created transfer"
// @Failure      400  {object}  map[string]interface{}  "Invalid email or self-transfer"
// @Failure      403  {object}  map[string]interface{}  "Caller is not the organization's contact"
// @Failure      409  {object}  map[string]interface{}  "A transfer is already pending"
// @Router       /api/v1/transfers [post]
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			response.Fail(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
			return
		}

		var req CreateTransferRequest
		if !response.BindJSON(c, &req) {
			return
		}

		tr, err := h.workflow.Initiate(c.Request.Context(), services.InitiateInput{
			OrganizationID:  req.OrganizationID,
			NewContactEmail: req.NewContactEmail,
			RequesterID:     userID,
		})
		if err != nil {
			response.Error(c, err)
			return
		}

		response.OK(c, http.StatusCreated, gin.H{
			"transfer": tr,
			"message":  "Transfer request sent to " + tr.NewContactEmail,
		})
	}
}

// @Summary      Accept a contact transfer
// @Description  Accepts the invitation identified by the emailed token. When signed in, the caller must be the invited person.
// @Tags         Transfers
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  AcceptTransferRequest  true  "Invitation token"
// @Success      200  {object}  map[string]interface{}  "Accepted transfer, awaiting admin approval"
// @Failure      400  {object}  map[string]interface{}  "Expired or no longer pending"
// @Failure      404  {object}  map[string]interface{}  "Unknown token"
// @Failure      409  {object}  map[string]interface{}  "Invitee has no account yet"
// @Router       /api/v1/transfers/accept [post]
func (h *Handlers) AcceptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AcceptTransferRequest
		if !response.BindJSON(c, &req) {
			return
		}
		h.accept(c, req.Token)
	}
}

// AcceptLinkHandler serves the link in the invitation email,
// GET /auth?action=accept-transfer&token=... Signing in is optional.
func (h *Handlers) AcceptLinkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q AcceptLinkQuery
		if !response.BindQuery(c, &q) {
			return
		}
		if q.Action != AcceptAction {
			response.Fail(c, http.StatusBadRequest, "validation_error", "Unsupported action: "+q.Action)
			return
		}
		h.accept(c, q.Token)
	}
}

func (h *Handlers) accept(c *gin.Context, token string) {
	var actorID *string
	if id, ok := middleware.UserIDFromContext(c); ok {
		actorID = &id
	}

	tr, err := h.workflow.Accept(c.Request.Context(), token, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, http.StatusOK, gin.H{
		"transfer": tr,
		"message":  "Transfer accepted. An administrator will review it shortly.",
	})
}

// @Summary      Cancel a contact transfer
// @Tags         Transfers
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Transfer ID"
// @Success      200  {object}  map[string]interface{}  "Cancelled transfer"
// @Failure      403  {object}  map[string]interface{}  "Caller did not request this transfer"
// @Router       /api/v1/transfers/{id}/cancel [post]
func (h *Handlers) CancelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			response.Fail(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
			return
		}

		id, ok := response.ParamID(c, "id")
		if !ok {
			return
		}

		tr, err := h.workflow.Cancel(c.Request.Context(), id, userID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusOK, gin.H{"transfer": tr})
	}
}

// GetHandler returns one transfer to a party of it or an administrator
// GET /api/v1/transfers/:id
func (h *Handlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			response.Fail(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
			return
		}

		id, ok := response.ParamID(c, "id")
		if !ok {
			return
		}

		viewer := services.Viewer{
			ProfileID: userID,
			IsAdmin:   auth.HasScope(middleware.ScopesFromContext(c), auth.ScopeTransfersAdmin),
		}
		tr, err := h.workflow.Get(c.Request.Context(), id, viewer)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusOK, gin.H{"transfer": tr})
	}
}
