// Package worker reacts to order and payment events: it moves orders along
// their lifecycle and asks the notification service to tell the customer.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/insureflow/internal/domain"
	"github.com/joao-fontenele/insureflow/internal/httpapi"
	"github.com/joao-fontenele/insureflow/internal/messaging"
)

// Topics the worker subscribes to.
var Topics = []string{domain.EventOrderCreated, domain.EventOrderPaid, domain.EventPaymentFailed}

const serviceUserID = "order-worker"

type Config struct {
	NotificationsURL string
	OrdersURL        string
	// PaymentPageURL is the customer facing page an order is paid from. The
	// order id is appended as the last path segment.
	PaymentPageURL string
}

type Handler struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHandler(cfg Config, client *http.Client, logger *slog.Logger) *Handler {
	return &Handler{cfg: cfg, httpClient: client, logger: logger}
}

// statusError is a non-2xx answer from a downstream service.
type statusError struct {
	service string
	code    int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.service, e.code)
}

// permanent reports whether retrying err can never succeed. Such messages are
// logged and committed so they do not block the partition.
func permanent(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}

func (h *Handler) Handle(ctx context.Context, env messaging.Envelope) error {
	var err error
	switch env.Type {
	case domain.EventOrderCreated:
		err = h.orderCreated(ctx, env)
	case domain.EventOrderPaid:
		err = h.orderPaid(ctx, env)
	case domain.EventPaymentFailed:
		err = h.paymentFailed(ctx, env)
	default:
		h.logger.Warn("ignoring unknown event", "event_id", env.ID, "type", env.Type)
		return nil
	}

	if err != nil && permanent(err) {
		h.logger.Error("dropping event after permanent failure", "error", err, "event_id", env.ID, "type", env.Type)
		return nil
	}
	return err
}

func (h *Handler) orderCreated(ctx context.Context, env messaging.Envelope) error {
	var event domain.OrderEventPayload
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		h.logger.Error("dropping malformed event", "error", err, "event_id", env.ID, "type", env.Type)
		return nil
	}

	h.logger.Info("processing order created event", "order_id", event.OrderID, "user_id", event.UserID)

	err := h.notify(ctx, event.UserID, domain.NotificationTypeOrderCreated, domain.ChannelEmail, map[string]string{
		"username":    event.UserID,
		"orderNumber": event.OrderNumber,
		"planName":    event.PlanName,
		"amount":      event.PremiumAmount,
		"createdAt":   env.Timestamp.Format(time.DateTime),
		"paymentUrl":  h.cfg.PaymentPageURL + "/" + event.OrderID,
	})
	if err != nil {
		return fmt.Errorf("send order created notification: %w", err)
	}

	if err := h.setOrderStatus(ctx, event.OrderID, domain.OrderStatusConfirmed); err != nil {
		return fmt.Errorf("confirm order: %w", err)
	}

	h.logger.Info("order processing complete", "order_id", event.OrderID)
	return nil
}

func (h *Handler) orderPaid(ctx context.Context, env messaging.Envelope) error {
	var event domain.PaymentEventPayload
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		h.logger.Error("dropping malformed event", "error", err, "event_id", env.ID, "type", env.Type)
		return nil
	}

	h.logger.Info("processing order paid event", "order_id", event.OrderID, "payment_id", event.PaymentID)

	// The payment may settle before order.created was handled.
	if err := h.setOrderStatus(ctx, event.OrderID, domain.OrderStatusConfirmed); err != nil {
		return fmt.Errorf("confirm order: %w", err)
	}
	if err := h.setOrderStatus(ctx, event.OrderID, domain.OrderStatusPaid); err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}

	order, err := h.getOrder(ctx, event.OrderID, event.UserID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	if order.Status != domain.OrderStatusPaid && order.Status != domain.OrderStatusActive {
		h.logger.Warn("order not paid after payment completed", "order_id", order.ID, "status", order.Status, "payment_id", event.PaymentID)
		return nil
	}

	err = h.notify(ctx, event.UserID, domain.NotificationTypePaymentCompleted, domain.ChannelSMS, map[string]string{
		"orderNumber": order.OrderNumber,
	})
	if err != nil {
		return fmt.Errorf("send payment completed notification: %w", err)
	}

	h.logger.Info("order paid", "order_id", order.ID)
	return nil
}

func (h *Handler) paymentFailed(ctx context.Context, env messaging.Envelope) error {
	var event domain.PaymentEventPayload
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		h.logger.Error("dropping malformed event", "error", err, "event_id", env.ID, "type", env.Type)
		return nil
	}

	order, err := h.getOrder(ctx, event.OrderID, event.UserID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}

	reason := event.Message
	if reason == "" {
		reason = "the payment was declined"
	}

	err = h.notify(ctx, event.UserID, domain.NotificationTypePaymentFailed, domain.ChannelEmail, map[string]string{
		"username":    event.UserID,
		"orderNumber": order.OrderNumber,
		"amount":      event.Amount,
		"reason":      reason,
	})
	if err != nil {
		return fmt.Errorf("send payment failed notification: %w", err)
	}

	h.logger.Info("payment failure notified", "order_id", event.OrderID, "payment_id", event.PaymentID)
	return nil
}

func (h *Handler) notify(ctx context.Context, userID string, typ domain.NotificationType, channel domain.NotificationChannel, data map[string]string) error {
	body := map[string]any{
		"user_id":       userID,
		"type":          typ,
		"channel":       channel,
		"template_data": data,
	}

	resp, err := h.do(ctx, http.MethodPost, h.cfg.NotificationsURL+"/notifications/send", serviceUserID, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return &statusError{service: "notifications service", code: resp.StatusCode}
	}
	return nil
}

// setOrderStatus moves an order to status. A conflict means the order is
// already there or past it, as on redelivery, and is not an error.
func (h *Handler) setOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	url := fmt.Sprintf("%s/orders/%s/status", h.cfg.OrdersURL, orderID)

	resp, err := h.do(ctx, http.MethodPut, url, serviceUserID, map[string]string{"status": string(status)})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		h.logger.Info("order status already applied", "order_id", orderID, "status", status)
		return nil
	}
	return &statusError{service: "orders service", code: resp.StatusCode}
}

func (h *Handler) getOrder(ctx context.Context, orderID, ownerID string) (*domain.Order, error) {
	resp, err := h.do(ctx, http.MethodGet, fmt.Sprintf("%s/orders/%s", h.cfg.OrdersURL, orderID), ownerID, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{service: "orders service", code: resp.StatusCode}
	}

	var order domain.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &order, nil
}

func (h *Handler) do(ctx context.Context, method, url, userID string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(httpapi.HeaderUserID, userID)
	req.Header.Set(httpapi.HeaderUserRole, httpapi.RoleAdmin)

	return h.httpClient.Do(req)
}
