// auth.go implements HTTP handlers for OIDC login, the OAuth callback that provisions
// member profiles, token refresh and the current-profile endpoint.
package admin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/api/response"
	"github.com/consortium-members/membership-backend/internal/auth"
	"github.com/consortium-members/membership-backend/internal/auth/oidc"
	"github.com/consortium-members/membership-backend/internal/config"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/middleware"
)

const loginStateTTL = 5 * time.Minute

// IdentityProvider is the sign-in backend. *oidc.Provider implements it.
type IdentityProvider interface {
	AuthCodeURL(state, nonce string) string
	Authenticate(ctx context.Context, code, nonce string) (*oidc.UserInfo, error)
}

// AuthHandlers handles authentication-related endpoints
type AuthHandlers struct {
	cfg      *config.Config
	profiles *repositories.ProfileRepository
	provider IdentityProvider

	mu       sync.Mutex
	sessions map[string]loginState // keyed by OAuth state
	now      func() time.Time
}

// loginState is the server side of one in-flight login
type loginState struct {
	nonce     string
	createdAt time.Time
}

// NewAuthHandlers creates AuthHandlers. provider may be nil when OIDC is disabled.
func NewAuthHandlers(cfg *config.Config, profiles *repositories.ProfileRepository, provider IdentityProvider) *AuthHandlers {
	return &AuthHandlers{
		cfg:      cfg,
		profiles: profiles,
		provider: provider,
		sessions: make(map[string]loginState),
		now:      time.Now,
	}
}

// randomToken returns a URL-safe random string for OAuth state and nonce values
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// putState stores a login and drops abandoned ones
func (h *AuthHandlers) putState(state, nonce string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for k, s := range h.sessions {
		if now.Sub(s.createdAt) > loginStateTTL {
			delete(h.sessions, k)
		}
	}
	h.sessions[state] = loginState{nonce: nonce, createdAt: now}
}

// takeState removes and returns a login. ok is false for unknown or expired states.
func (h *AuthHandlers) takeState(state string) (loginState, bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, exists := h.sessions[state]
	if !exists {
		return loginState{}, false, false
	}
	delete(h.sessions, state)
	if h.now().Sub(s.createdAt) > loginStateTTL {
		return loginState{}, true, false
	}
	return s, true, true
}

// @Summary      Initiate OIDC login
// @Description  Redirect the browser to the consortium identity provider to begin sign-in
// @Tags         Authentication
// @Produce      json
// @Success      302  {object}  string  "Redirects to the provider authorization URL"
// @Failure      400  {object}  map[string]interface{}  "OIDC not configured"
// @Failure      500  {object}  map[string]interface{}  "Failed to generate state"
// @Router       /api/v1/auth/login [get]
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.provider == nil {
			response.Fail(c, http.StatusBadRequest, "oidc_disabled", "OIDC provider not configured")
			return
		}

		state, err := randomToken()
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, "internal_error", "Failed to generate state")
			return
		}
		nonce, err := randomToken()
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, "internal_error", "Failed to generate nonce")
			return
		}

		h.putState(state, nonce)
		c.Redirect(http.StatusFound, h.provider.AuthCodeURL(state, nonce))
	}
}

// @Summary      OIDC callback handler
// @Description  Exchanges the authorization code, provisions or links the member profile and redirects the browser to the frontend /auth/callback page with a session token.
// @Tags         Authentication
// @Param        code   query  string  true  "Authorization code"
// @Param        state  query  string  true  "State parameter for CSRF validation"
// @Success      302  {object}  string  "Redirects to frontend /auth/callback?token=<jwt>"
// @Router       /api/v1/auth/callback [get]
func (h *AuthHandlers) CallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		frontendBase := deriveFrontendURL(h.cfg)

		// Errors go back to the frontend so the person sees a message instead of raw JSON.
		callbackError := func(errCode, description string) {
			if frontendBase == "" {
				response.Fail(c, http.StatusBadRequest, errCode, description)
				return
			}
			target := fmt.Sprintf(
				"%s/auth/callback?error=%s&error_description=%s",
				frontendBase,
				url.QueryEscape(errCode),
				url.QueryEscape(description),
			)
			c.Redirect(http.StatusFound, target)
		}

		if h.provider == nil {
			callbackError("provider_not_configured", "OIDC provider is not configured.")
			return
		}
		if idpErr := c.Query("error"); idpErr != "" {
			callbackError(idpErr, c.Query("error_description"))
			return
		}

		login, known, valid := h.takeState(c.Query("state"))
		if !known {
			callbackError("invalid_state", "Invalid state parameter. Please try logging in again.")
			return
		}
		if !valid {
			callbackError("state_expired", "Login session expired. Please try logging in again.")
			return
		}

		code := c.Query("code")
		if code == "" {
			callbackError("missing_code", "The identity provider did not return an authorization code.")
			return
		}

		ctx := c.Request.Context()
		info, err := h.provider.Authenticate(ctx, code, login.nonce)
		if err != nil {
			slog.Warn("OIDC authentication failed", "error", err)
			if errors.Is(err, oidc.ErrEmailNotVerified) {
				callbackError("email_not_verified", "Your email address has not been verified with the identity provider.")
				return
			}
			callbackError("authentication_failed", "Sign-in could not be completed.")
			return
		}

		profile, err := h.profiles.GetOrCreateFromOIDC(ctx, info.Subject, info.Email, info.Name, h.cfg.Auth.IsAdminEmail(info.Email))
		if err != nil {
			slog.Error("failed to provision profile", "email", info.Email, "error", err)
			callbackError("profile_failed", "Failed to look up or create your account.")
			return
		}

		token, err := auth.IssueSessionToken(profile.ID, profile.Email, auth.DefaultSessionTTL)
		if err != nil {
			callbackError("jwt_failed", "Failed to generate an authentication token.")
			return
		}

		slog.Info("member signed in", "user_id", profile.ID, "is_admin", profile.IsAdmin)
		c.Redirect(http.StatusFound, fmt.Sprintf("%s/auth/callback?token=%s", frontendBase, url.QueryEscape(token)))
	}
}

// deriveFrontendURL returns the browser-facing base URL of the member portal.
// The configured site URL wins, then the origin of the OIDC redirect URL, then base_url.
func deriveFrontendURL(cfg *config.Config) string {
	if cfg.Server.SiteURL != "" {
		return strings.TrimRight(cfg.Server.SiteURL, "/")
	}
	if cfg.Auth.OIDC.RedirectURL != "" {
		if u, err := url.Parse(cfg.Auth.OIDC.RedirectURL); err == nil && u.Host != "" {
			return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
		}
	}
	return strings.TrimRight(cfg.Server.BaseURL, "/")
}

// @Summary      Refresh JWT token
// @Description  Exchange a valid session token for a fresh one
// @Tags         Authentication
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "New session token"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/auth/refresh [post]
func (h *AuthHandlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		profile := middleware.ProfileFromContext(c)
		if profile == nil {
			response.Fail(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
			return
		}

		token, err := auth.IssueSessionToken(profile.ID, profile.Email, auth.DefaultSessionTTL)
		if err != nil {
			response.Fail(c, http.StatusInternalServerError, "internal_error", "Failed to generate new token")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(auth.DefaultSessionTTL.Seconds()),
		})
	}
}

// MeHandler returns the signed-in profile and the scopes granted to this request
// GET /api/v1/auth/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		profile := middleware.ProfileFromContext(c)
		if profile == nil {
			response.Fail(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user":           profile,
			"allowed_scopes": middleware.ScopesFromContext(c),
			"auth_method":    c.GetString(middleware.ContextAuthMethod),
		})
	}
}
