package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusActive    OrderStatus = "active"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusActive},
	OrderStatusActive:    {OrderStatusExpired},
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	switch st {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPaid,
		OrderStatusActive, OrderStatusCancelled, OrderStatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return contains(orderTransitions[s], next)
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusExpired
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, s, ParseOrderStatus)
}

// OrderItem is a plan feature captured on the order. Items are written
// together with the order and never change afterwards.
type OrderItem struct {
	ID                 string          `json:"id"`
	FeatureName        string          `json:"feature_name"`
	FeatureDescription string          `json:"feature_description"`
	Cost               decimal.Decimal `json:"cost"`
	IsIncluded         bool            `json:"is_included"`
}

// Order references its user and plan by value only; both live in other
// services and are not checked for existence locally.
type Order struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	PlanID         string          `json:"plan_id"`
	OrderNumber    string          `json:"order_number"`
	Status         OrderStatus     `json:"status"`
	PremiumAmount  decimal.Decimal `json:"premium_amount"`
	CoverageAmount decimal.Decimal `json:"coverage_amount"`
	DurationMonths int             `json:"duration_months"`
	StartDate      *time.Time      `json:"start_date,omitempty"`
	EndDate        *time.Time      `json:"end_date,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	Items          []OrderItem     `json:"items"`
	Plan           *PlanSnapshot   `json:"plan_details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type OrderStats struct {
	TotalOrders       int             `json:"total_orders"`
	ActiveOrders      int             `json:"active_orders"`
	PendingOrders     int             `json:"pending_orders"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
}

// AddMonths adds calendar months to t. When the target month is shorter the
// day is clamped to its last day, so Jan 31 + 1 month is Feb 28 (or 29).
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}
