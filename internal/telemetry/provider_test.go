package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithHTTPRoute_CallsHandler(t *testing.T) {
	called := false
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}", WithHTTPRoute(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.PathValue("id") != "abc" {
			t.Errorf("expected path value abc, got %q", r.PathValue("id"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/abc", nil))

	if !called {
		t.Fatal("wrapped handler was not called")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
