// Package sandbox stands in for third parties during local runs: the email,
// SMS and push relays the notification service delivers through, and the
// Alipay and WeChat Pay endpoints the payment service charges against.
package sandbox

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Latency is the simulated processing time of every sandbox call, drawn
// uniformly from [Min, Max].
type Latency struct {
	Min time.Duration
	Max time.Duration
}

func (l Latency) wait() {
	d := l.Min
	if l.Max > l.Min {
		d += rand.N(l.Max - l.Min + 1)
	}
	if d > 0 {
		time.Sleep(d)
	}
}

// DeliveryHandler accepts deliveries for every channel. Recipients containing
// "bounce" are rejected so failure paths can be exercised.
type DeliveryHandler struct {
	latency Latency
	logger  *slog.Logger
}

func NewDeliveryHandler(latency Latency, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{latency: latency, logger: logger}
}

type emailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type smsRequest struct {
	SignName string `json:"sign_name"`
	Phone    string `json:"phone"`
	Text     string `json:"text"`
}

type pushRequest struct {
	DeviceToken string `json:"device_token"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

type deliveryResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *DeliveryHandler) HandleEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	h.deliver(w, "email", req.To, "subject", req.Subject)
}

func (h *DeliveryHandler) HandleSMS(w http.ResponseWriter, r *http.Request) {
	var req smsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	h.deliver(w, "sms", req.Phone, "length", len([]rune(req.Text)))
}

func (h *DeliveryHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	h.deliver(w, "push", req.DeviceToken, "title", req.Title)
}

func (h *DeliveryHandler) deliver(w http.ResponseWriter, channel, recipient string, attrs ...any) {
	if recipient == "" {
		writeError(w, h.logger, http.StatusUnprocessableEntity, "recipient is required")
		return
	}

	h.latency.wait()

	if strings.Contains(recipient, "bounce") {
		h.logger.Info("delivery rejected", append([]any{"channel", channel, "recipient", recipient}, attrs...)...)
		writeJSON(w, h.logger, http.StatusOK, deliveryResponse{Status: "rejected", Error: "recipient unreachable"})
		return
	}

	id := channel + "_" + uuid.NewString()
	h.logger.Info("delivery sent", append([]any{"channel", channel, "recipient", recipient, "message_id", id}, attrs...)...)
	writeJSON(w, h.logger, http.StatusOK, deliveryResponse{Status: "sent", MessageID: id})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	writeJSON(w, logger, status, map[string]string{"error": message})
}
