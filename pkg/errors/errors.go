package evalhub_errors

import (
	"errors"
)

// Common errors
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrIntegrity     = errors.New("integrity check failed")
	ErrInvalidState  = errors.New("invalid state")
	ErrStorage       = errors.New("storage operation failed")
	ErrPathTraversal = errors.New("path traversal")
	ErrTooLarge      = errors.New("file too large")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrConflict      = errors.New("conflict")
	ErrRateLimited   = errors.New("rate limited")
	ErrQueueFull     = errors.New("queue full")
	ErrAlreadyExists = errors.New("already exists")
)

// HTTPStatus maps an error chain to the response status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return 401
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrTooLarge):
		return 413
	case errors.Is(err, ErrValidation):
		return 422
	case errors.Is(err, ErrRateLimited):
		return 429
	case errors.Is(err, ErrQueueFull):
		return 503
	default:
		return 500
	}
}
