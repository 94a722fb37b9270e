package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/insureflow/internal/apperr"
	"github.com/joao-fontenele/insureflow/internal/domain"
	"github.com/joao-fontenele/insureflow/internal/httpapi"
)

// Handler serves the notification routes. Writes come from other services
// acting with the admin role; users can only read their own notifications.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type createRequest struct {
	UserID       string                     `json:"user_id"`
	Type         domain.NotificationType    `json:"type"`
	Title        string                     `json:"title"`
	Content      string                     `json:"content"`
	Channel      domain.NotificationChannel `json:"channel"`
	Recipient    string                     `json:"recipient"`
	TemplateID   string                     `json:"template_id"`
	TemplateData map[string]string          `json:"template_data"`
	ScheduledAt  *time.Time                 `json:"scheduled_at"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if err := httpapi.RequireAdmin(r); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to create notification")
		return
	}

	var req createRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to create notification")
		return
	}

	n, err := h.service.Create(r.Context(), CreateInput(req))
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to create notification", "user_id", req.UserID)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusCreated, n)
}

type sendRequest struct {
	UserID       string                     `json:"user_id"`
	Type         domain.NotificationType    `json:"type"`
	Channel      domain.NotificationChannel `json:"channel"`
	Recipient    string                     `json:"recipient"`
	TemplateID   string                     `json:"template_id"`
	TemplateData map[string]string          `json:"template_data"`
	ScheduledAt  *time.Time                 `json:"scheduled_at"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	if err := httpapi.RequireAdmin(r); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to send notification")
		return
	}

	var req sendRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to send notification")
		return
	}

	n, err := h.service.Send(r.Context(), SendInput(req))
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to send notification", "user_id", req.UserID, "type", req.Type)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusCreated, n)
}

type bulkRequest struct {
	UserIDs      []string                   `json:"user_ids"`
	Type         domain.NotificationType    `json:"type"`
	Channel      domain.NotificationChannel `json:"channel"`
	TemplateID   string                     `json:"template_id"`
	TemplateData map[string]string          `json:"template_data"`
	ScheduledAt  *time.Time                 `json:"scheduled_at"`
}

func (h *Handler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	if err := httpapi.RequireAdmin(r); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to send bulk notification")
		return
	}

	var req bulkRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to send bulk notification")
		return
	}

	created, err := h.service.SendBulk(r.Context(), BulkInput(req))
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to send bulk notification", "type", req.Type)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusCreated, created)
}

func (h *Handler) HandleResend(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, "resend", h.service.Resend)
}

func (h *Handler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, "dispatch", h.service.DispatchScheduled)
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request, action string,
	fn func(context.Context, string) (*domain.Notification, error)) {
	msg := fmt.Sprintf("failed to %s notification", action)
	id := r.PathValue("id")

	if err := httpapi.RequireAdmin(r); err != nil {
		httpapi.WriteError(w, h.logger, err, msg, "notification_id", id)
		return
	}

	n, err := fn(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, msg, "notification_id", id)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, n)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to get notification", "notification_id", id)
		return
	}

	n, err := h.service.Get(r.Context(), id)
	if err == nil && n.UserID != userID && httpapi.RequireAdmin(r) != nil {
		err = apperr.NotFound("notification %s not found", id)
	}
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to get notification", "notification_id", id)
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, n)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := httpapi.RequireAdmin(r); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to delete notification", "notification_id", id)
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to delete notification", "notification_id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleList lists the caller's notifications. Admins list everything, or
// one user's with ?user_id=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list notifications")
		return
	}

	in, err := parseListInput(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list notifications")
		return
	}
	if httpapi.RequireAdmin(r) == nil {
		in.UserID = r.URL.Query().Get("user_id")
	} else {
		in.UserID = userID
	}

	h.list(w, r, in)
}

func (h *Handler) HandleListByUser(w http.ResponseWriter, r *http.Request) {
	callerID, err := httpapi.UserID(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list user notifications")
		return
	}

	userID := r.PathValue("userId")
	if userID != callerID && httpapi.RequireAdmin(r) != nil {
		httpapi.WriteError(w, h.logger, fmt.Errorf("%w: cannot list another user's notifications", apperr.ErrUnauthorized),
			"failed to list user notifications", "user_id", userID)
		return
	}

	in, err := parseListInput(r)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list user notifications")
		return
	}
	in.UserID = userID

	h.list(w, r, in)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, in ListInput) {
	page, err := h.service.List(r.Context(), in)
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to list notifications")
		return
	}

	h.logger.Info("notifications listed", "count", len(page.Notifications), "total", page.Total)
	httpapi.WriteJSON(w, h.logger, http.StatusOK, httpapi.PageResponse[domain.Notification]{
		Items:    page.Notifications,
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
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		if in.Status, err = domain.ParseNotificationStatus(v); err != nil {
			return ListInput{}, apperr.Validation("%v", err)
		}
	}
	if v := q.Get("type"); v != "" {
		if in.Type, err = domain.ParseNotificationType(v); err != nil {
			return ListInput{}, apperr.Validation("%v", err)
		}
	}
	if v := q.Get("channel"); v != "" {
		if in.Channel, err = domain.ParseNotificationChannel(v); err != nil {
			return ListInput{}, apperr.Validation("%v", err)
		}
	}
	return in, nil
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if err := httpapi.RequireAdmin(r); err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to get notification stats")
		return
	}

	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httpapi.WriteError(w, h.logger, err, "failed to get notification stats")
		return
	}

	httpapi.WriteJSON(w, h.logger, http.StatusOK, stats)
}

func (h *Handler) HandleTemplates(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, h.logger, http.StatusOK, h.service.Templates())
}
