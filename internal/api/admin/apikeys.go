// Package admin implements the administrative HTTP handlers of the membership backend:
// sign-in, API keys, organization and transfer decisions, audit logs, analytics and
// outbound email. These handlers require authentication and the RBAC scopes wired in
// router.go (see internal/middleware/rbac.go).
package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/api/response"
	"github.com/consortium-members/membership-backend/internal/auth"
	"github.com/consortium-members/membership-backend/internal/config"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/middleware"
)

// APIKeyHandlers handles API key management endpoints
type APIKeyHandlers struct {
	cfg     *config.Config
	apiKeys *repositories.APIKeyRepository
	now     func() time.Time
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance
func NewAPIKeyHandlers(cfg *config.Config, apiKeys *repositories.APIKeyRepository) *APIKeyHandlers {
	return &APIKeyHandlers{cfg: cfg, apiKeys: apiKeys, now: time.Now}
}

// CreateAPIKeyRequest represents the request to create a new API key
type CreateAPIKeyRequest struct {
	Name      string     `json:"name" binding:"required,max=100"`
	Scopes    []string   `json:"scopes" binding:"required,min=1"`
	ExpiresAt *time.Time `json:"expires_at"` // RFC3339
}

// APIKeyResponse is the public view of a key. Key is only set on creation.
type APIKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Key        string     `json:"key,omitempty"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toAPIKeyResponse(k *models.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		Scopes:     k.Scopes,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

// @Summary      Create API key
// @Description  Creates a key for machine access. Scopes are limited to those the caller holds. The full key is only returned in this response.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateAPIKeyRequest  true  "Key name, scopes and optional expiry"
// @Success      201  {object}  map[string]interface{}  "Created key including the secret"
// @Failure      400  {object}  map[string]interface{}  "Invalid scopes or expiry"
// @Failure      403  {object}  map[string]interface{}  "Requested scope exceeds the caller's"
// @Router       /api/v1/admin/apikeys [post]
func (h *APIKeyHandlers) CreateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			response.Fail(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
			return
		}

		var req CreateAPIKeyRequest
		if !response.BindJSON(c, &req) {
			return
		}
		if err := auth.ValidateScopes(req.Scopes); err != nil {
			response.Fail(c, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		callerScopes := middleware.ScopesFromContext(c)
		for _, s := range req.Scopes {
			if !auth.HasScope(callerScopes, auth.Scope(s)) {
				response.Fail(c, http.StatusForbidden, "forbidden", "Cannot grant scope not held by caller: "+s)
				return
			}
		}
		if req.ExpiresAt != nil && !req.ExpiresAt.After(h.now()) {
			response.Fail(c, http.StatusBadRequest, "validation_error", "expires_at must be in the future")
			return
		}

		issued, err := auth.IssueAPIKey(h.cfg.Auth.APIKeys.Prefix)
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, "internal_error", "Failed to generate API key")
			return
		}

		apiKey := &models.APIKey{
			UserID:    userID,
			Name:      req.Name,
			KeyHash:   issued.Hash,
			KeyPrefix: issued.DisplayPrefix,
			Scopes:    req.Scopes,
			ExpiresAt: req.ExpiresAt,
		}
		if err := h.apiKeys.CreateAPIKey(c.Request.Context(), apiKey); err != nil {
			response.Error(c, err)
			return
		}

		resp := toAPIKeyResponse(apiKey)
		resp.Key = issued.Secret
		response.OK(c, http.StatusCreated, gin.H{"api_key": resp})
	}
}

// ListAPIKeysHandler lists the caller's own API keys
// GET /api/v1/admin/apikeys
func (h *APIKeyHandlers) ListAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserIDFromContext(c)
		if !ok {
			response.Fail(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
			return
		}

		keys, err := h.apiKeys.ListAPIKeysByUser(c.Request.Context(), userID)
		if err != nil {
			response.Error(c, err)
			return
		}

		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, toAPIKeyResponse(k))
		}
		response.OK(c, http.StatusOK, gin.H{"api_keys": out})
	}
}

// DeleteAPIKeyHandler revokes a key. Owners may revoke their own keys; admins any key.
// DELETE /api/v1/admin/apikeys/:id
func (h *APIKeyHandlers) DeleteAPIKeyHandler() gin.HandlerFunc {
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

		ctx := c.Request.Context()
		key, err := h.apiKeys.GetAPIKeyByID(ctx, id)
		if err != nil {
			response.Error(c, err)
			return
		}
		if key == nil {
			response.Fail(c, http.StatusNotFound, "not_found", "API key not found")
			return
		}
		if key.UserID != userID && !auth.HasScope(middleware.ScopesFromContext(c), auth.ScopeAdmin) {
			response.Fail(c, http.StatusForbidden, "forbidden", "Cannot revoke another user's API key")
			return
		}

		if err := h.apiKeys.DeleteAPIKey(ctx, key.ID); err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, http.StatusOK, gin.H{"message": "API key revoked"})
	}
}
