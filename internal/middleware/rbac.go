package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/consortium-members/membership-backend/internal/auth"
)

// RequireScope aborts with 403 unless the scopes Authenticator resolved cover
// scope. Scopes come from the profile on every request, so an admin flag change
// applies without rotating sessions.
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		held, ok := c.Get(ContextScopes)
		scopes, isSlice := held.([]string)
		if !ok || !isSlice || !auth.HasScope(scopes, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "missing required scope " + string(scope),
				"code":  "forbidden",
			})
			return
		}
		c.Next()
	}
}
