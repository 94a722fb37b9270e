package payments

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/insureflow/internal/apperr"
	"github.com/joao-fontenele/insureflow/internal/domain"
	"github.com/joao-fontenele/insureflow/internal/httpapi"
)

const HeaderSignature = "X-Signature"

type Handler struct {
	service  *Service
	verifier *WebhookVerifier
	logger   *slog.Logger
}

func NewHandler(service *Service, verifier *WebhookVerifier, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		verifier: verifier,
		logger:   logger,
	}
}

type createPaymentRequest struct {
	OrderID  string               `json:"order_id"`
	Amount   decimal.Decimal      `json:"amount"`
	Currency string               `json:"currency"`
	Method   domain.PaymentMethod `json:"method"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to create payment")
		return
	}

	var req createPaymentRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to create payment")
		return
	}

	p, err := h.service.Create(r.Context(), CreateInput{
		OrderID:  req.OrderID,
		UserID:   userID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Method:   req.Method,
	})
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to create payment", "order_id", req.OrderID)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusCreated, p)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.authorized(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to get payment", "payment_id", r.PathValue("id"))
		return
	}

	h.logger.Info("payment retrieved", "payment_id", p.ID)
	httpapi.WriteJSON(w, h.logger, http.StatusOK, p)
}

func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "process", h.service.Process)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "cancel", h.service.Cancel)
}

func (h *Handler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "refund", h.service.Refund)
}

func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "sync", h.service.Sync)
}

func (h *Handler) act(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, string) (*domain.Payment, error)) {
	msg := fmt.Sprintf("failed to %s payment", action)

	p, err := h.authorized(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, msg, "payment_id", r.PathValue("id"))
		return
	}

	p, err = fn(r.Context(), p.ID)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, msg, "payment_id", r.PathValue("id"))
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, p)
}

// authorized loads the payment named in the path if the caller owns it or
// is an admin. Other users' payments are reported as not found.
func (h *Handler) authorized(r *http.Request) (*domain.Payment, error) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		return nil, err
	}

	id := r.PathValue("id")
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID && httpapi.RequireAdmin(r) != nil {
		return nil, apperr.NotFound("payment %s not found", id)
	}
	return p, nil
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list payments")
		return
	}

	in, err := parseListInput(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list payments")
		return
	}
	if httpapi.RequireAdmin(r) == nil {
		in.UserID = r.URL.Query().Get("user_id")
	} else {
		in.UserID = userID
	}
	in.OrderID = r.URL.Query().Get("order_id")

	h.list(w, r, in)
}

func (h *Handler) HandleListByUser(w http.ResponseWriter, r *http.Request) {
	callerID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list user payments")
		return
	}

	userID := r.PathValue("userId")
	if userID != callerID && httpapi.RequireAdmin(r) != nil {
		httpapi.WriteError(w, h.logger, fmt.Errorf("%w: cannot list another user's payments", apperr.ErrUnauthorized),
			"failed to list user payments", "user_id", userID)
		return
	}

	payments, err := h.service.ListByUser(r.Context(), userID)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list user payments", "user_id", userID)
		return
	}

	h.logger.Info("user payments listed", "user_id", userID, "count", len(payments))
	httpapi.WriteJSON(w, h.logger, http.StatusOK, payments)
}

func (h *Handler) HandleListByOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list order payments")
		return
	}

	in, err := parseListInput(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list order payments")
		return
	}
	in.OrderID = r.PathValue("orderId")
	if httpapi.RequireAdmin(r) != nil {
		in.UserID = userID
	}

	h.list(w, r, in)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, in ListInput) {
	page, err := h.service.List(r.Context(), in)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list payments")
		return
	}

	h.logger.Info("payments listed", "count", len(page.Payments), "total", page.Total)
	httpapi.WriteJSON(w, h.logger, http.StatusOK, httpapi.PageResponse[domain.Payment]{
		Items:    page.Payments,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
}

func parseListInput(r *http.Request) (ListInput, error) {
	p, err := httpapi.ParsePagination(r)
	if err != nil {
		return ListInput{}, err
	}

	in := ListInput{Page: p.Page, PageSize: p.PageSize}
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := domain.ParsePaymentStatus(v)
		if err != nil {
			return ListInput{}, apperr.Validation("%v", err)
		}
		in.Status = status
	}
	return in, nil
}

// HandleStats aggregates the caller's payments. Admins get every payment,
// or one user's with ?user_id=.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to get payment stats")
		return
	}
	if httpapi.RequireAdmin(r) == nil {
		userID = r.URL.Query().Get("user_id")
	}

	stats, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to get payment stats")
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, stats)
}

type webhookRequest struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	Signature     string `json:"signature"`
}

// HandleWebhook takes gateway callbacks. It is reached without user
// identity, so the signature is the only authentication.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to handle payment webhook")
		return
	}

	signature := req.Signature
	if signature == "" {
		signature = r.Header.Get(HeaderSignature)
	}
	if !h.verifier.Verify(req.TransactionID, req.Status, req.Message, signature) {
		httpapi.WriteError(w, h.logger, fmt.Errorf("%w: invalid webhook signature", apperr.ErrUnauthorized),
			"rejected payment webhook", "transaction_id", req.TransactionID)
		return
	}

	status, err := domain.ParsePaymentStatus(req.Status)
	if err != nil {
		httpapi.WriteError(w, h.logger, apperr.Validation("%v", err), "failed to handle payment webhook", "transaction_id", req.TransactionID)
		return
	}

	p, err := h.service.ReconcileWebhook(r.Context(), req.TransactionID, status, req.Message)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to handle payment webhook", "transaction_id", req.TransactionID, "status", status)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, p)
}
