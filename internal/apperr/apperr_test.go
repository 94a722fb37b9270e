package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   string
		status int
	}{
		{"nil", nil, "", http.StatusOK},
		{"validation", Validation("amount must be positive"), "validation", http.StatusBadRequest},
		{"not found", NotFound("order %s not found", "o-1"), "not_found", http.StatusNotFound},
		{"state conflict", StateConflict("payment is %s", "pending"), "state_conflict", http.StatusConflict},
		{"wrapped conflict", fmt.Errorf("refund: %w", StateConflict("nope")), "state_conflict", http.StatusConflict},
		{"external", External("alipay", errors.New("connection refused")), "external_service", http.StatusBadGateway},
		{"external timeout", External("sms", context.DeadlineExceeded), "timeout", http.StatusGatewayTimeout},
		{"persistence", Persistence("insert order", errors.New("disk full")), "persistence", http.StatusInternalServerError},
		{"unauthorized", fmt.Errorf("missing header: %w", ErrUnauthorized), "unauthorized", http.StatusUnauthorized},
		{"canceled", context.Canceled, "canceled", http.StatusBadRequest},
		{"unknown", errors.New("boom"), "internal", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.kind {
				t.Errorf("Kind() = %q, want %q", got, tt.kind)
			}
			if got := HTTPStatus(tt.err); got != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestExternalKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := External("wechat_pay", cause)

	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	if !errors.Is(err, ErrExternalService) {
		t.Error("expected ErrExternalService")
	}
}

func TestPublicMessage(t *testing.T) {
	if got := PublicMessage(Persistence("update payment", errors.New("pq: deadlock detected"))); got != "internal server error" {
		t.Errorf("persistence message leaked: %q", got)
	}
	if got := PublicMessage(Validation("currency is required")); got != "validation failed: currency is required" {
		t.Errorf("unexpected validation message: %q", got)
	}
}
