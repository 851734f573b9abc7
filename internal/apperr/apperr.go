// Package apperr defines the error kinds shared by the stores, the chat
// service and the HTTP layer. Store packages wrap these kinds in their own
// sentinels so callers can match either the specific or the general error.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
)

// Status maps an error to the HTTP status code for its kind.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Public reports whether the error message is safe to return to a client.
func Public(err error) bool {
	return Status(err) != http.StatusInternalServerError
}
