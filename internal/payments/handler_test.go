package payments

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/insureflow/internal/domain"
	"github.com/joao-fontenele/insureflow/internal/httpapi"
)

const testSecret = "webhook-secret"

func newTestMux(f *fixture) *http.ServeMux {
	h := NewHandler(f.svc, NewWebhookVerifier(testSecret), discardLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments", h.HandleCreate)
	mux.HandleFunc("GET /payments", h.HandleList)
	mux.HandleFunc("GET /payments/stats", h.HandleStats)
	mux.HandleFunc("GET /payments/user/{userId}", h.HandleListByUser)
	mux.HandleFunc("GET /payments/order/{orderId}", h.HandleListByOrder)
	mux.HandleFunc("GET /payments/{id}", h.HandleGet)
	mux.HandleFunc("POST /payments/{id}/process", h.HandleProcess)
	mux.HandleFunc("POST /payments/{id}/cancel", h.HandleCancel)
	mux.HandleFunc("POST /payments/{id}/refund", h.HandleRefund)
	mux.HandleFunc("POST /payments/{id}/sync", h.HandleSync)
	mux.HandleFunc("POST /payments/webhook", h.HandleWebhook)
	return mux
}

func serve(mux http.Handler, method, target, body, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(httpapi.HeaderUserID, userID)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndProcess(t *testing.T) {
	f := newFixture()
	mux := newTestMux(f)

	rec := serve(mux, http.MethodPost, "/payments", `{"order_id":"order-1","amount":"349.99","method":"alipay"}`, "user-1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created domain.Payment
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	rec = serve(mux, http.MethodPost, "/payments/"+created.ID+"/process", "", "user-2")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another user's payment, got %d", rec.Code)
	}

	rec = serve(mux, http.MethodPost, "/payments/"+created.ID+"/process", "", "user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var processed domain.Payment
	if err := json.NewDecoder(rec.Body).Decode(&processed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if processed.Status != domain.PaymentStatusCompleted {
		t.Errorf("expected completed, got %s", processed.Status)
	}

	rec = serve(mux, http.MethodPost, "/payments", `{"order_id":"order-1","amount":"349.99","method":"alipay"}`, "user-1")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for second active payment, got %d", rec.Code)
	}
}

func TestHandler_ProcessGatewayDown(t *testing.T) {
	f := newFixture()
	f.gateway.err = errorString("connection refused")
	f.seed("p1", domain.PaymentStatusPending, "")
	mux := newTestMux(f)

	rec := serve(mux, http.MethodPost, "/payments/p1/process", "", "user-1")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }

func TestHandler_Webhook(t *testing.T) {
	f := newFixture()
	f.seed("p1", domain.PaymentStatusProcessing, "tx-1")
	mux := newTestMux(f)

	sig := NewWebhookVerifier(testSecret).Sign("tx-1", "completed", "paid")

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "bad signature", body: `{"transaction_id":"tx-1","status":"completed","message":"paid","signature":"00"}`, wantCode: http.StatusUnauthorized},
		{name: "valid", body: `{"transaction_id":"tx-1","status":"completed","message":"paid","signature":"` + sig + `"}`, wantCode: http.StatusOK},
		{name: "replay", body: `{"transaction_id":"tx-1","status":"completed","message":"paid","signature":"` + sig + `"}`, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(mux, http.MethodPost, "/payments/webhook", tt.body, "")
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}

	if got := f.events.count(domain.EventOrderPaid); got != 1 {
		t.Errorf("expected one order.paid event, got %d", got)
	}
}

func TestHandler_WebhookSignatureHeader(t *testing.T) {
	f := newFixture()
	f.seed("p1", domain.PaymentStatusProcessing, "tx-1")
	mux := newTestMux(f)

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{"transaction_id":"tx-1","status":"failed","message":"closed"}`))
	req.Header.Set(HeaderSignature, NewWebhookVerifier(testSecret).Sign("tx-1", "failed", "closed"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.store.status("p1"); got != domain.PaymentStatusFailed {
		t.Errorf("expected failed, got %s", got)
	}
}

func TestHandler_Lists(t *testing.T) {
	f := newFixture()
	f.seed("p1", domain.PaymentStatusCompleted, "tx-1")
	mux := newTestMux(f)

	if rec := serve(mux, http.MethodGet, "/payments/user/user-2", "", "user-1"); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for another user's listing, got %d", rec.Code)
	}
	if rec := serve(mux, http.MethodGet, "/payments/user/user-1", "", "user-1"); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec := serve(mux, http.MethodGet, "/payments/order/order-p1", "", "user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page httpapi.PageResponse[domain.Payment]
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("expected 1 payment for order, got %d", page.Total)
	}

	if rec := serve(mux, http.MethodGet, "/payments?status=unknown", "", "user-1"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if rec := serve(mux, http.MethodGet, "/payments/stats", "", "user-1"); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
