package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/api/response"
	"github.com/consortium-members/membership-backend/internal/auth"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
)

// DevHandlers lets a local portal sign in without an identity provider.
type DevHandlers struct {
	profiles *repositories.ProfileRepository
}

func NewDevHandlers(profiles *repositories.ProfileRepository) *DevHandlers {
	return &DevHandlers{profiles: profiles}
}

// DevModeMiddleware answers 404 outside dev mode so the routes are not
// discoverable in production.
func DevModeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.IsDevMode() {
			response.Fail(c, http.StatusNotFound, "not_found", "Not found")
			c.Abort()
			return
		}
		c.Next()
	}
}

type DevLoginRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name" binding:"max=200"`
	Admin bool   `json:"admin"`
}

// DevLoginHandler signs in as the profile with the given email, creating it
// first when it does not exist. Admin only applies to newly created profiles.
// POST /api/v1/dev/login
func (h *DevHandlers) DevLoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DevLoginRequest
		if !response.BindJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()

		status := http.StatusOK
		profile, err := h.profiles.GetByEmail(ctx, req.Email)
		if err != nil {
			response.Error(c, err)
			return
		}
		if profile == nil {
			name := strings.TrimSpace(req.Name)
			if name == "" {
				name, _, _ = strings.Cut(req.Email, "@")
			}
			profile = &models.Profile{Email: req.Email, Name: name, IsAdmin: req.Admin}
			if err := h.profiles.Create(ctx, profile); err != nil {
				response.Error(c, err)
				return
			}
			status = http.StatusCreated
		}

		token, err := auth.IssueSessionToken(profile.ID, profile.Email, auth.DefaultSessionTTL)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, status, gin.H{
			"token":      token,
			"expires_in": int(auth.DefaultSessionTTL.Seconds()),
			"user":       profile,
		})
	}
}
