// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, metrics and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	RequestID → Security → Metrics → RateLimit → Auth → RBAC → Audit → Handler
//
// Rate limiting runs before auth so brute-force attempts are blocked before any
// DB work. Auth populates the profile and scopes; RBAC reads them. Audit runs
// last so only authorized mutations are recorded.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/auth"
	"github.com/consortium-members/membership-backend/internal/db/models"
	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/safego"
)

// Context keys set by the auth middleware
const (
	ContextProfile    = "profile"
	ContextUserID     = "user_id"
	ContextScopes     = "scopes"
	ContextAuthMethod = "auth_method"
	ContextAPIKeyID   = "api_key_id"
)

// authFailure is a reason to reject a request, or nil when the credential was accepted
type authFailure struct {
	status  int
	message string
}

// Authenticator resolves bearer credentials (session JWT or API key) to a profile.
type Authenticator struct {
	profiles *repositories.ProfileRepository
	apiKeys  *repositories.APIKeyRepository
	now      func() time.Time
}

// NewAuthenticator creates an Authenticator. apiKeys may be nil to disable API keys.
func NewAuthenticator(profiles *repositories.ProfileRepository, apiKeys *repositories.APIKeyRepository) *Authenticator {
	return &Authenticator{profiles: profiles, apiKeys: apiKeys, now: time.Now}
}

// Required aborts with 401 unless the request carries a valid credential.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, fail := bearerToken(c.GetHeader("Authorization"))
		if fail == nil {
			fail = a.authenticate(c, token)
		}
		if fail != nil {
			c.AbortWithStatusJSON(fail.status, gin.H{"error": fail.message})
			return
		}
		c.Next()
	}
}

// Optional authenticates when a credential is present and otherwise continues
// anonymously. Used by the emailed acceptance link, which works signed in or not.
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, fail := bearerToken(c.GetHeader("Authorization")); fail == nil {
			_ = a.authenticate(c, token)
		}
		c.Next()
	}
}

func bearerToken(header string) (string, *authFailure) {
	if header == "" {
		return "", &authFailure{http.StatusUnauthorized, "Missing authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", &authFailure{http.StatusUnauthorized, "Authorization header must start with 'Bearer '"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", &authFailure{http.StatusUnauthorized, "Authorization token is empty"}
	}
	return token, nil
}

func (a *Authenticator) authenticate(c *gin.Context, token string) *authFailure {
	ctx := c.Request.Context()

	// JWT first: it is a signature check with no DB round-trip before the profile load.
	if claims, err := auth.ParseSessionToken(token); err == nil {
		profile, err := a.profiles.GetByID(ctx, claims.ProfileID)
		if err != nil {
			return &authFailure{http.StatusInternalServerError, "Failed to load profile"}
		}
		if profile == nil {
			return &authFailure{http.StatusUnauthorized, "Profile not found"}
		}
		setIdentity(c, profile, "jwt", auth.ScopesForProfile(profile.IsAdmin))
		return nil
	}

	if a.apiKeys == nil {
		return &authFailure{http.StatusUnauthorized, "Invalid credentials"}
	}

	apiKey, err := authenticateAPIKey(ctx, token, a.apiKeys)
	if err != nil {
		return &authFailure{http.StatusInternalServerError, "Authentication failed"}
	}
	if apiKey == nil {
		return &authFailure{http.StatusUnauthorized, "Invalid credentials"}
	}
	if apiKey.IsExpired(a.now()) {
		return &authFailure{http.StatusUnauthorized, "API key expired"}
	}

	owner, err := a.profiles.GetByID(ctx, apiKey.UserID)
	if err != nil {
		return &authFailure{http.StatusInternalServerError, "Failed to load profile"}
	}
	if owner == nil {
		return &authFailure{http.StatusUnauthorized, "API key owner not found"}
	}

	keyID := apiKey.ID
	repo := a.apiKeys
	safego.Go("api-key-last-used", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = repo.UpdateLastUsed(ctx, keyID)
	})

	c.Set(ContextAPIKeyID, apiKey.ID)
	setIdentity(c, owner, "api_key", effectiveKeyScopes(apiKey.Scopes, owner))
	return nil
}

// effectiveKeyScopes caps a key's scopes at what its owner currently holds, so a
// demoted admin's old keys lose their admin reach.
func effectiveKeyScopes(keyScopes []string, owner *models.Profile) []string {
	ownerScopes := auth.ScopesForProfile(owner.IsAdmin)
	out := make([]string, 0, len(keyScopes))
	for _, s := range keyScopes {
		if auth.HasScope(ownerScopes, auth.Scope(s)) {
			out = append(out, s)
		}
	}
	return out
}

func setIdentity(c *gin.Context, p *models.Profile, method string, scopes []string) {
	c.Set(ContextProfile, p)
	c.Set(ContextUserID, p.ID)
	c.Set(ContextAuthMethod, method)
	c.Set(ContextScopes, scopes)
}

// authenticateAPIKey finds the stored key matching providedKey. Only the display
// prefix is stored in clear; it narrows the bcrypt candidates.
func authenticateAPIKey(ctx context.Context, providedKey string, apiKeyRepo *repositories.APIKeyRepository) (*models.APIKey, error) {
	keys, err := apiKeyRepo.GetAPIKeysByPrefix(ctx, auth.LookupPrefix(providedKey))
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if auth.VerifyAPIKey(providedKey, key.KeyHash) {
			return key, nil
		}
	}
	return nil, nil
}

// ProfileFromContext returns the authenticated profile, or nil
func ProfileFromContext(c *gin.Context) *models.Profile {
	v, ok := c.Get(ContextProfile)
	if !ok {
		return nil
	}
	p, _ := v.(*models.Profile)
	return p
}

// UserIDFromContext returns the authenticated profile id
func UserIDFromContext(c *gin.Context) (string, bool) {
	id := c.GetString(ContextUserID)
	return id, id != ""
}

// ScopesFromContext returns the scopes granted to the request
func ScopesFromContext(c *gin.Context) []string {
	return c.GetStringSlice(ContextScopes)
}
