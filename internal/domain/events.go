package domain

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	EventOrderCreated   = "order.created"
	EventOrderUpdated   = "order.updated"
	EventOrderCancelled = "order.cancelled"
	EventOrderPaid      = "order.paid"
	EventOrderActivated = "order.activated"
	EventPaymentFailed  = "payment.failed"
)

type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	EntityID  string    `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

func NewEvent(eventType, entityID string, payload any) Event {
	now := time.Now().UTC()
	return Event{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Type:      eventType,
		EntityID:  entityID,
		Timestamp: now,
		Payload:   payload,
	}
}

// EventSink publishes lifecycle events. Delivery is best effort: callers log
// a failed publish and carry on.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

type discardEvents struct{}

func (discardEvents) Publish(context.Context, Event) error { return nil }

// DiscardEvents is used when no broker is configured.
var DiscardEvents EventSink = discardEvents{}

type OrderEventPayload struct {
	OrderID       string      `json:"order_id"`
	OrderNumber   string      `json:"order_number"`
	UserID        string      `json:"user_id"`
	PlanID        string      `json:"plan_id"`
	PlanName      string      `json:"plan_name,omitempty"`
	Status        OrderStatus `json:"status"`
	PremiumAmount string      `json:"premium_amount"`
}

type PaymentEventPayload struct {
	PaymentID     string        `json:"payment_id"`
	OrderID       string        `json:"order_id"`
	UserID        string        `json:"user_id"`
	Amount        string        `json:"amount"`
	Currency      string        `json:"currency"`
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Message       string        `json:"message,omitempty"`
}
