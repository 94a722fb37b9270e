// Package apperr classifies workflow failures so every service maps them to
// the same HTTP statuses.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrStateConflict   = errors.New("state conflict")
	ErrExternalService = errors.New("external service failure")
	ErrPersistence     = errors.New("persistence failure")
	ErrUnauthorized    = errors.New("unauthorized")
)

func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

func StateConflict(format string, args ...any) error {
	return wrap(ErrStateConflict, format, args...)
}

// External wraps a failed or timed-out call to a gateway, provider or peer
// service. The cause stays reachable through errors.Is/As.
func External(service string, err error) error {
	return fmt.Errorf("%s: %w: %w", service, ErrExternalService, err)
}

// Persistence wraps a storage failure with the operation that hit it.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrValidation):
		return "validation"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, ErrStateConflict):
		return "state_conflict"

	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"

	case errors.Is(err, ErrExternalService):
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		return "external_service"

	case errors.Is(err, ErrPersistence):
		return "persistence"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch Kind(err) {
	case "":
		return http.StatusOK
	case "validation", "canceled":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "state_conflict":
		return http.StatusConflict
	case "unauthorized":
		return http.StatusUnauthorized
	case "external_service":
		return http.StatusBadGateway
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to return to a client. Persistence and
// unclassified failures never leak their cause.
func PublicMessage(err error) string {
	switch Kind(err) {
	case "persistence", "internal":
		return "internal server error"
	default:
		return err.Error()
	}
}
