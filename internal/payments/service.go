// Package payments runs the payment state machine against external
// gateways. Gateway calls happen outside the row lock; the outcome is
// applied afterwards only if nothing else (a cancel or a webhook) settled
// the payment in the meantime.
package payments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/insureflow/internal/apperr"
	"github.com/joao-fontenele/insureflow/internal/domain"
)

const (
	DefaultCurrency = "CNY"

	defaultPageSize = 10
	maxPageSize     = 100
)

type CreateInput struct {
	OrderID  string
	UserID   string
	Amount   decimal.Decimal
	Currency string
	Method   domain.PaymentMethod
}

type ListInput struct {
	UserID   string
	OrderID  string
	Status   domain.PaymentStatus
	Page     int
	PageSize int
}

type Page struct {
	Payments []domain.Payment
	Total    int
	Page     int
	PageSize int
}

type Service struct {
	store     Store
	gateways  Registry
	events    domain.EventSink
	logger    *slog.Logger
	now       func() time.Time
	processed metric.Int64Counter
}

func NewService(store Store, gateways Registry, events domain.EventSink, logger *slog.Logger) *Service {
	if events == nil {
		events = domain.DiscardEvents
	}

	processed, err := otel.Meter("insureflow/payments").Int64Counter("payments.processed",
		metric.WithDescription("Payments that reached a settled outcome, by status"))
	if err != nil {
		logger.Warn("failed to create payments.processed counter", "error", err)
	}

	return &Service{
		store:     store,
		gateways:  gateways,
		events:    events,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		processed: processed,
	}
}

// Create records a pending payment. The order itself is not looked up: it
// lives in another service and may not be visible here yet.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Payment, error) {
	if in.OrderID == "" {
		return nil, apperr.Validation("order_id is required")
	}
	if in.UserID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than zero")
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return nil, apperr.Validation("amount has more than two decimal places")
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if !validCurrency(currency) {
		return nil, apperr.Validation("currency %q is not an ISO 4217 code", in.Currency)
	}

	if _, ok := s.gateways.Lookup(in.Method); !ok {
		return nil, apperr.Validation("payment method %q is not supported", in.Method)
	}

	now := s.now()
	p := &domain.Payment{
		OrderID:   in.OrderID,
		UserID:    in.UserID,
		Amount:    in.Amount,
		Currency:  currency,
		Status:    domain.PaymentStatusPending,
		Method:    in.Method,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, ErrActivePaymentExists) {
			return nil, apperr.StateConflict("order %s already has an active payment", in.OrderID)
		}
		return nil, apperr.Persistence("create payment", err)
	}

	s.logger.Info("payment created", "payment_id", p.ID, "order_id", p.OrderID, "amount", p.Amount.StringFixed(2), "method", p.Method)
	return p, nil
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Process submits a pending payment to its gateway. A transport failure
// stores the payment as failed and is then returned as an external service
// error. There is no automatic retry.
func (s *Service) Process(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var gw Gateway
	p, err := s.mutate(ctx, paymentID, func(p *domain.Payment) error {
		if p.Status != domain.PaymentStatusPending {
			return apperr.StateConflict("payment %s is %s, only pending payments can be processed", paymentID, p.Status)
		}
		var ok bool
		if gw, ok = s.gateways.Lookup(p.Method); !ok {
			return apperr.Validation("payment method %q is not supported", p.Method)
		}
		p.Status = domain.PaymentStatusProcessing
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The gateway may already have charged the customer by the time the
	// caller gives up, so the call and its bookkeeping outlive ctx.
	bg := context.WithoutCancel(ctx)

	result, callErr := gw.Initiate(bg, InitiateRequest{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Currency:  p.Currency,
	})

	var next domain.PaymentStatus
	final, err := s.mutate(bg, paymentID, func(p *domain.Payment) error {
		if p.Status != domain.PaymentStatusProcessing {
			if callErr != nil || !result.Success {
				s.logger.Warn("payment settled while gateway call was in flight, keeping stored state",
					"payment_id", p.ID, "status", p.Status, "gateway_success", result.Success, "gateway_error", callErr)
				return ErrNoChange
			}
			// The customer was charged for a payment that is already settled.
			// Keep the status but record the trade so it can be found and refunded.
			if p.TransactionID == nil && result.TransactionID != "" {
				p.TransactionID = ptr(result.TransactionID)
			}
			p.GatewayResponse = ptr(result.Message)
			s.logger.Error("payment charged after it was settled elsewhere, refund manually",
				"payment_id", p.ID, "status", p.Status, "transaction_id", result.TransactionID)
			return nil
		}

		now := s.now()
		p.ProcessedAt = &now
		switch {
		case callErr != nil:
			next = domain.PaymentStatusFailed
			p.GatewayResponse = ptr(callErr.Error())
		case result.Success:
			next = domain.PaymentStatusCompleted
			p.TransactionID = ptr(result.TransactionID)
			p.GatewayResponse = ptr(result.Message)
		default:
			next = domain.PaymentStatusFailed
			p.GatewayResponse = ptr(result.Message)
			if result.TransactionID != "" {
				p.TransactionID = ptr(result.TransactionID)
			}
		}
		p.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if next != "" {
		s.settled(bg, final)
	}

	if callErr != nil && next != "" {
		return final, apperr.External("payment gateway", callErr)
	}

	s.logger.Info("payment processed", "payment_id", final.ID, "status", final.Status)
	return final, nil
}

func (s *Service) Cancel(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, err := s.mutate(ctx, paymentID, func(p *domain.Payment) error {
		if !p.Status.CanTransitionTo(domain.PaymentStatusCancelled) {
			return apperr.StateConflict("payment %s is %s and cannot be cancelled", paymentID, p.Status)
		}
		now := s.now()
		p.Status = domain.PaymentStatusCancelled
		p.ProcessedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment cancelled", "payment_id", p.ID)
	return p, nil
}

// Refund asks the gateway to return a completed payment. If the gateway
// fails or declines, the payment stays completed and the error is returned.
func (s *Service) Refund(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, err := s.get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PaymentStatusCompleted {
		return nil, apperr.StateConflict("payment %s is %s, only completed payments can be refunded", paymentID, p.Status)
	}
	if p.TransactionID == nil {
		return nil, apperr.StateConflict("payment %s has no gateway transaction", paymentID)
	}
	gw, ok := s.gateways.Lookup(p.Method)
	if !ok {
		return nil, apperr.Validation("payment method %q is not supported", p.Method)
	}

	bg := context.WithoutCancel(ctx)

	result, err := gw.Refund(bg, RefundRequest{
		PaymentID:     p.ID,
		TransactionID: *p.TransactionID,
		Amount:        p.Amount,
		Currency:      p.Currency,
	})
	if err != nil {
		return nil, apperr.External("payment gateway", err)
	}
	if !result.Success {
		return nil, apperr.External("payment gateway", errors.New("refund declined: "+result.Message))
	}

	refunded, err := s.mutate(bg, paymentID, func(p *domain.Payment) error {
		if p.Status != domain.PaymentStatusCompleted {
			s.logger.Warn("payment changed while refund was in flight, keeping stored state", "payment_id", p.ID, "status", p.Status)
			return ErrNoChange
		}
		p.Status = domain.PaymentStatusRefunded
		p.GatewayResponse = ptr(result.Message)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment refunded", "payment_id", refunded.ID, "status", refunded.Status)
	return refunded, nil
}

// ReconcileWebhook applies a gateway callback. Replays of the current status
// only refresh the message; regressions are rejected without writing.
func (s *Service) ReconcileWebhook(ctx context.Context, transactionID string, status domain.PaymentStatus, message string) (*domain.Payment, error) {
	if transactionID == "" {
		return nil, apperr.Validation("transaction_id is required")
	}

	p, err := s.store.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, apperr.Persistence("get payment by transaction", err)
	}
	if p == nil {
		return nil, apperr.NotFound("no payment for transaction %s", transactionID)
	}

	return s.reconcile(ctx, p.ID, status, "", message)
}

// Sync asks the gateway for the current state of a submitted payment and
// reconciles it. It recovers payments left processing by a lost callback or
// a crash between the gateway call and its bookkeeping.
func (s *Service) Sync(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, err := s.get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status == domain.PaymentStatusPending {
		return nil, apperr.StateConflict("payment %s has not been submitted to a gateway", paymentID)
	}
	gw, ok := s.gateways.Lookup(p.Method)
	if !ok {
		return nil, apperr.Validation("payment method %q is not supported", p.Method)
	}

	req := QueryRequest{PaymentID: p.ID}
	if p.TransactionID != nil {
		req.TransactionID = *p.TransactionID
	}

	result, err := gw.Query(context.WithoutCancel(ctx), req)
	if err != nil {
		return nil, apperr.External("payment gateway", err)
	}

	return s.reconcile(ctx, paymentID, result.Status, result.TransactionID, result.Message)
}

func (s *Service) reconcile(ctx context.Context, paymentID string, status domain.PaymentStatus, transactionID, message string) (*domain.Payment, error) {
	applied := false
	p, err := s.mutate(ctx, paymentID, func(p *domain.Payment) error {
		switch {
		case p.Status == status:
		case p.Status.CanTransitionTo(status):
			p.Status = status
			applied = true
		default:
			return apperr.StateConflict("payment %s cannot move from %s to %s", paymentID, p.Status, status)
		}

		if message != "" {
			p.GatewayResponse = ptr(message)
		}
		if p.TransactionID == nil && transactionID != "" {
			p.TransactionID = ptr(transactionID)
		}
		if p.ProcessedAt == nil {
			now := s.now()
			p.ProcessedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		s.settled(ctx, p)
	}

	s.logger.Info("payment reconciled", "payment_id", p.ID, "status", p.Status, "applied", applied)
	return p, nil
}

// settled records metrics and events for a transition that just happened.
func (s *Service) settled(ctx context.Context, p *domain.Payment) {
	if s.processed != nil {
		s.processed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(p.Status)),
			attribute.String("method", string(p.Method)),
		))
	}

	switch p.Status {
	case domain.PaymentStatusCompleted:
		s.publish(ctx, domain.EventOrderPaid, p)
	case domain.PaymentStatusFailed:
		s.publish(ctx, domain.EventPaymentFailed, p)
	}
}

func (s *Service) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.get(ctx, paymentID)
}

func (s *Service) List(ctx context.Context, in ListInput) (*Page, error) {
	if in.Page < 1 {
		in.Page = 1
	}
	if in.PageSize < 1 {
		in.PageSize = defaultPageSize
	}
	in.PageSize = min(in.PageSize, maxPageSize)

	payments, total, err := s.store.List(ctx, Filter{
		UserID:  in.UserID,
		OrderID: in.OrderID,
		Status:  in.Status,
		Limit:   in.PageSize,
		Offset:  (in.Page - 1) * in.PageSize,
	})
	if err != nil {
		return nil, apperr.Persistence("list payments", err)
	}
	return &Page{Payments: payments, Total: total, Page: in.Page, PageSize: in.PageSize}, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.Payment, error) {
	page, err := s.List(ctx, ListInput{UserID: userID, PageSize: maxPageSize})
	if err != nil {
		return nil, err
	}
	return page.Payments, nil
}

// ActiveForOrder returns the order's payment that is neither cancelled nor
// failed.
func (s *Service) ActiveForOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	page, err := s.List(ctx, ListInput{OrderID: orderID, PageSize: maxPageSize})
	if err != nil {
		return nil, err
	}
	for i := range page.Payments {
		if page.Payments[i].Status.Active() {
			return &page.Payments[i], nil
		}
	}
	return nil, apperr.NotFound("order %s has no active payment", orderID)
}

func (s *Service) Stats(ctx context.Context, userID string) (domain.PaymentStats, error) {
	stats, err := s.store.Stats(ctx, userID)
	if err != nil {
		return domain.PaymentStats{}, apperr.Persistence("payment stats", err)
	}
	return stats, nil
}

func (s *Service) get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, apperr.Persistence("get payment", err)
	}
	if p == nil {
		return nil, apperr.NotFound("payment %s not found", paymentID)
	}
	return p, nil
}

func (s *Service) mutate(ctx context.Context, paymentID string, fn func(*domain.Payment) error) (*domain.Payment, error) {
	p, err := s.store.Mutate(ctx, paymentID, fn)
	if err != nil {
		if apperr.Kind(err) == "internal" {
			return nil, apperr.Persistence("update payment", err)
		}
		return nil, err
	}
	if p == nil {
		return nil, apperr.NotFound("payment %s not found", paymentID)
	}
	return p, nil
}

func (s *Service) publish(ctx context.Context, eventType string, p *domain.Payment) {
	payload := domain.PaymentEventPayload{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		UserID:    p.UserID,
		Amount:    p.Amount.StringFixed(2),
		Currency:  p.Currency,
		Method:    p.Method,
		Status:    p.Status,
	}
	if p.TransactionID != nil {
		payload.TransactionID = *p.TransactionID
	}
	if p.GatewayResponse != nil {
		payload.Message = *p.GatewayResponse
	}

	if err := s.events.Publish(ctx, domain.NewEvent(eventType, p.OrderID, payload)); err != nil {
		s.logger.Error("failed to publish payment event", "error", err, "event", eventType, "payment_id", p.ID)
	}
}

// finishStats derives the average and success rate from the raw counts.
func finishStats(s *domain.PaymentStats) {
	if s.TotalCount > 0 {
		s.AverageAmount = s.TotalAmount.Div(decimal.NewFromInt(int64(s.TotalCount))).Round(2)
	}
	s.SuccessRate = domain.SuccessRate(s.CompletedCount, s.TotalCount)
}

func ptr[T any](v T) *T {
	return &v
}
