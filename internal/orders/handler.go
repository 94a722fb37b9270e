package orders

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/insureflow/internal/apperr"
	"github.com/joao-fontenele/insureflow/internal/domain"
	"github.com/joao-fontenele/insureflow/internal/httpapi"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type createOrderRequest struct {
	PlanID             string              `json:"plan_id"`
	Notes              *string             `json:"notes"`
	AdditionalFeatures []AdditionalFeature `json:"additional_features"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to create order")
		return
	}

	var req createOrderRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to create order")
		return
	}

	order, err := h.service.Create(r.Context(), CreateInput{
		UserID:             userID,
		PlanID:             req.PlanID,
		Notes:              req.Notes,
		AdditionalFeatures: req.AdditionalFeatures,
	})
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to create order", "user_id", userID, "plan_id", req.PlanID)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to get order")
		return
	}

	id := r.PathValue("id")
	order, err := h.service.Get(r.Context(), id, userID)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to get order", "order_id", id)
		return
	}

	h.logger.Info("order retrieved", "order_id", order.ID)
	httpapi.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list orders")
		return
	}
	h.list(w, r, userID)
}

// HandleListAll lists every user's orders. Admin only.
func (h *Handler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	if err := httpapi.RequireAdmin(r); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list all orders")
		return
	}
	h.list(w, r, "")
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, userID string) {
	in, err := parseListInput(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list orders")
		return
	}
	in.UserID = userID

	page, err := h.service.List(r.Context(), in)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list orders", "user_id", userID)
		return
	}

	h.logger.Info("orders listed", "count", len(page.Orders), "total", page.Total)
	httpapi.WriteJSON(w, h.logger, http.StatusOK, httpapi.PageResponse[domain.Order]{
		Items:    page.Orders,
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

	in := ListInput{Page: p.Page, PageSize: p.PageSize, PlanID: r.URL.Query().Get("plan_id")}
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := domain.ParseOrderStatus(v)
		if err != nil {
			return ListInput{}, apperr.Validation("%v", err)
		}
		in.Status = status
	}
	return in, nil
}

func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list recent orders")
		return
	}

	orders, err := h.service.Recent(r.Context(), userID)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list recent orders", "user_id", userID)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, orders)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to get order stats")
		return
	}

	stats, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to get order stats", "user_id", userID)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, stats)
}

type updateOrderRequest struct {
	Status    *domain.OrderStatus `json:"status"`
	Notes     *string             `json:"notes"`
	StartDate *string             `json:"start_date"`
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to update order")
		return
	}

	id := r.PathValue("id")

	var req updateOrderRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to update order", "order_id", id)
		return
	}

	in := UpdateInput{Status: req.Status, Notes: req.Notes}
	if req.StartDate != nil {
		start, err := parseDate(*req.StartDate)
		if err != nil {
			httpapi.WriteError(w, h.logger, err, "failed to update order", "order_id", id)
			return
		}
		in.StartDate = &start
	}

	order, err := h.service.Update(r.Context(), id, userID, in)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to update order", "order_id", id)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, order)
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.Validation("start_date must be YYYY-MM-DD or RFC 3339")
	}
	return t.UTC(), nil
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to cancel order")
		return
	}

	id := r.PathValue("id")
	if _, err := h.service.Cancel(r.Context(), id, userID); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to cancel order", "order_id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

// HandleUpdateStatus is the privileged transition endpoint. Admin only.
func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if err := httpapi.RequireAdmin(r); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to update order status")
		return
	}

	id := r.PathValue("id")

	var req updateStatusRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to update order status", "order_id", id)
		return
	}
	if req.Status == "" {
		httpapi.WriteError(w, h.logger, apperr.Validation("status is required"), "failed to update order status", "order_id", id)
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to update order status", "order_id", id, "status", req.Status)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, order)
}
