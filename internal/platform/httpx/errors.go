// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/velo-automation/velo/internal/shared"
)

// ErrUnauthorized is returned when a request lacks a valid bearer token.
var ErrUnauthorized = errors.New("unauthorized")

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrDuplicateReminder),
		errors.Is(err, shared.ErrDuplicateCase),
		errors.Is(err, shared.ErrDuplicateNumber),
		errors.Is(err, shared.ErrLockedInvoiceMutation),
		errors.Is(err, shared.ErrCaseAlreadyClosed),
		errors.Is(err, shared.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		JSON(w, status, ProblemDetail{
			Title:   http.StatusText(status),
			Status:  status,
			Message: shared.UserSafeMessage(err),
		})
		return
	}
	JSON(w, status, ProblemDetail{
		Title:   http.StatusText(status),
		Status:  status,
		Detail:  err.Error(),
		Message: shared.UserSafeMessage(err),
	})
}
