package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusCompleted:  {PaymentStatusRefunded},
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	st := PaymentStatus(s)
	switch st {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return st, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return contains(paymentTransitions[s], next)
}

// Active reports whether the payment still counts against its order.
// Only one active payment may exist per order.
func (s PaymentStatus) Active() bool {
	return s != PaymentStatusCancelled && s != PaymentStatusFailed
}

func (s *PaymentStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, s, ParsePaymentStatus)
}

type PaymentMethod string

const (
	PaymentMethodAlipay    PaymentMethod = "alipay"
	PaymentMethodWechatPay PaymentMethod = "wechat_pay"
	PaymentMethodBankCard  PaymentMethod = "bank_card"
	PaymentMethodApplePay  PaymentMethod = "apple_pay"
	PaymentMethodUnionPay  PaymentMethod = "union_pay"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(s)
	switch m {
	case PaymentMethodAlipay, PaymentMethodWechatPay, PaymentMethodBankCard,
		PaymentMethodApplePay, PaymentMethodUnionPay:
		return m, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

func (m *PaymentMethod) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, m, ParsePaymentMethod)
}

// Payment points at its order by id only. The order lives in another
// service, so a payment may reference an order that does not exist yet (or
// anymore); reconciling that is left to an external audit.
type Payment struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          PaymentStatus   `json:"status"`
	Method          PaymentMethod   `json:"method"`
	TransactionID   *string         `json:"transaction_id,omitempty"`
	GatewayResponse *string         `json:"gateway_response,omitempty"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type PaymentStats struct {
	TotalCount      int             `json:"total_count"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CompletedCount  int             `json:"completed_count"`
	CompletedAmount decimal.Decimal `json:"completed_amount"`
	FailedCount     int             `json:"failed_count"`
	RefundedCount   int             `json:"refunded_count"`
	RefundedAmount  decimal.Decimal `json:"refunded_amount"`
	AverageAmount   decimal.Decimal `json:"average_amount"`
	SuccessRate     float64         `json:"success_rate"`
}
