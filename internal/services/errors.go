package services

import (
	"errors"
	"net/http"

	"github.com/consortium-members/membership-backend/internal/db/repositories"
	"github.com/consortium-members/membership-backend/internal/transfer"
)

// Workflow errors. Handlers map them to HTTP responses with HTTPStatus and ErrorCode;
// anything not listed here is an internal error.
var (
	ErrValidation       = errors.New("validation failed")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrDuplicatePending = errors.New("organization already has a pending transfer")
	ErrTransferExpired  = errors.New("transfer has expired")
	ErrNewUserRequired  = errors.New("the new contact must create an account before the transfer can proceed")
	ErrVersionConflict  = errors.New("transfer already processed")
	ErrAlreadyExists    = errors.New("already exists")

	// ErrIllegalTransition is the state machine's error, re-exported so handlers
	// only need this package.
	ErrIllegalTransition = transfer.ErrIllegalTransition
)

// HTTPStatus returns the response status for an error returned by a service.
// An id the database cannot parse names no record and is reported as not found.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrTransferExpired),
		errors.Is(err, ErrIllegalTransition):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), repositories.IsInvalidInput(err):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicatePending),
		errors.Is(err, ErrNewUserRequired),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns the machine-readable code sent alongside the message
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrTransferExpired):
		return "transfer_expired"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound), repositories.IsInvalidInput(err):
		return "not_found"
	case errors.Is(err, ErrDuplicatePending):
		return "duplicate_pending"
	case errors.Is(err, ErrNewUserRequired):
		return "new_user_required"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	default:
		return "internal_error"
	}
}

// Message is the client-facing text for a non-internal error. Database
// parse failures are replaced so driver detail never reaches the caller.
func Message(err error) string {
	if repositories.IsInvalidInput(err) {
		return ErrNotFound.Error()
	}
	return err.Error()
}

// validationError wraps ErrValidation with a field-specific message
func validationError(msg string) error {
	return &wrappedError{msg: msg, base: ErrValidation}
}

type wrappedError struct {
	msg  string
	base error
}

func (e *wrappedError) Error() string { return e.msg }
func (e *wrappedError) Unwrap() error { return e.base }
