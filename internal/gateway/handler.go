package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/insureflow/internal/httpapi"
)

type Proxies struct {
	Orders        *ServiceProxy
	Payments      *ServiceProxy
	Notifications *ServiceProxy
	Plans         *ServiceProxy
}

type Handler struct {
	proxies    Proxies
	adminToken string
	logger     *slog.Logger
}

// NewHandler builds the edge handler. Requests carrying adminToken as a
// bearer token are forwarded with the admin role; the role header is
// stripped from every other request. An empty token disables admin access.
func NewHandler(proxies Proxies, adminToken string, logger *slog.Logger) *Handler {
	return &Handler{
		proxies:    proxies,
		adminToken: adminToken,
		logger:     logger,
	}
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.proxies.Orders)
}

func (h *Handler) HandlePayments(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.proxies.Payments)
}

func (h *Handler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.proxies.Notifications)
}

func (h *Handler) HandlePlans(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.proxies.Plans)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy) {
	path := r.URL.Path
	r = h.withRole(r)

	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) withRole(r *http.Request) *http.Request {
	r = r.Clone(r.Context())
	r.Header.Del(httpapi.HeaderUserRole)

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if ok && h.adminToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1 {
		r.Header.Set(httpapi.HeaderUserRole, httpapi.RoleAdmin)
	}
	return r
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
