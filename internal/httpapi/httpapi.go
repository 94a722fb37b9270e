// Package httpapi holds the request and response plumbing shared by the
// service handlers: identity headers set by the edge gateway, JSON bodies,
// pagination and the mapping of apperr kinds to status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/insureflow/internal/apperr"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	RoleAdmin      = "admin"

	DefaultPageSize = 10
	MaxPageSize     = 100
)

func UserID(r *http.Request) (string, error) {
	id := r.Header.Get(HeaderUserID)
	if id == "" {
		return "", fmt.Errorf("%w: missing %s header", apperr.ErrUnauthorized, HeaderUserID)
	}
	return id, nil
}

func RequireAdmin(r *http.Request) error {
	if r.Header.Get(HeaderUserRole) != RoleAdmin {
		return fmt.Errorf("%w: admin role required", apperr.ErrUnauthorized)
	}
	return nil
}

// DecodeJSON reads a JSON body into v. An empty body leaves v untouched.
func DecodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.Validation("invalid request body: %v", err)
}

type Pagination struct {
	Page     int
	PageSize int
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// ParsePagination reads page and page_size, defaulting to the first page of
// DefaultPageSize and capping the size at MaxPageSize.
func ParsePagination(r *http.Request) (Pagination, error) {
	p := Pagination{Page: 1, PageSize: DefaultPageSize}
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Pagination{}, apperr.Validation("page must be a positive integer")
		}
		p.Page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Pagination{}, apperr.Validation("page_size must be a positive integer")
		}
		p.PageSize = min(n, MaxPageSize)
	}
	return p, nil
}

type PageResponse[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func WriteJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// WriteError logs err with msg and attrs, then answers with the status that
// matches its kind. Server-side failures are logged at error level, client
// mistakes at warn.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, msg string, attrs ...any) {
	status := apperr.HTTPStatus(err)
	attrs = append(attrs, "error", err, "status", status)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, attrs...)
	} else {
		logger.Warn(msg, attrs...)
	}

	WriteJSON(w, logger, status, errorResponse{
		Error: apperr.PublicMessage(err),
		Kind:  apperr.Kind(err),
	})
}
