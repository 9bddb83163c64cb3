// Package response holds the JSON envelope shared by every API handler:
// {"success": true, ...} on success and {"error": "...", "code": "..."} on failure.
package response

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/consortium-members/membership-backend/internal/services"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// OK writes a success body. fields are merged next to "success".
func OK(c *gin.Context, status int, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}

// Fail writes an error body with an explicit status and code.
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": message, "code": code})
}

// Error maps an error returned by the services layer to its response. Internal
// errors are logged and replaced by a generic message.
func Error(c *gin.Context, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
		_ = c.Error(err)
		Fail(c, status, services.ErrorCode(err), "Internal server error")
		return
	}
	Fail(c, status, services.ErrorCode(err), services.Message(err))
}

// ParamID reads a UUID path parameter, writing a 404 when it is malformed
// since such an id cannot name a record. It reports whether the handler
// should continue.
func ParamID(c *gin.Context, name string) (string, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		Fail(c, http.StatusNotFound, "not_found", "Resource not found")
		return "", false
	}
	return id.String(), true
}

// BindJSON decodes the request body into req and writes a 400 on failure.
// It reports whether the handler should continue.
func BindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		Fail(c, http.StatusBadRequest, "validation_error", bindMessage(err))
		return false
	}
	return true
}

// BindQuery is BindJSON for query strings.
func BindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		Fail(c, http.StatusBadRequest, "validation_error", bindMessage(err))
		return false
	}
	return true
}

// bindMessage names the first failing field instead of echoing validator internals.
func bindMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return "Field '" + fe.Field() + "' is required"
		case "email":
			return "Field '" + fe.Field() + "' must be a valid email address"
		case "max":
			return "Field '" + fe.Field() + "' is too long"
		case "uuid":
			return "Field '" + fe.Field() + "' must be a UUID"
		default:
			return "Field '" + fe.Field() + "' is invalid"
		}
	}
	return "Invalid request body: " + err.Error()
}

// Pagination reads limit and offset query parameters, clamping them to sane bounds.
func Pagination(c *gin.Context) (limit, offset int) {
	limit = DefaultLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
