// Package apperr defines the error taxonomy shared by the queue, doctor,
// triage and assignment packages, and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	// ErrValidation marks malformed input rejected before any mutation.
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")

	// Precondition failures. No state is changed when these are returned.
	ErrNotEligible           = errors.New("not eligible")
	ErrActiveSessionConflict = errors.New("active session conflict")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDuplicateActiveEntry  = errors.New("patient already has an active queue entry")

	ErrQueueEmpty = errors.New("queue empty")

	// Ordering and idempotency guards.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyCompleted  = errors.New("already completed")

	// ErrTransientConflict signals a lost optimistic version check. It is
	// retried internally and surfaces as ErrServiceUnavailable when the retry
	// budget is exhausted.
	ErrTransientConflict  = errors.New("transient conflict")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Status returns the HTTP status code for err. Errors outside the taxonomy
// map to 500.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrQueueEmpty):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotEligible),
		errors.Is(err, ErrActiveSessionConflict),
		errors.Is(err, ErrDuplicateActiveEntry),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyCompleted):
		return http.StatusConflict
	case errors.Is(err, ErrTransientConflict), errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError converts err into an echo.HTTPError carrying the mapped status.
// Internal errors are not echoed back to the client.
func HTTPError(err error) *echo.HTTPError {
	status := Status(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error()).SetInternal(err)
}
