// Package orders owns the order lifecycle: creation against a plan snapshot,
// owner edits while pending, cancellation, and the privileged status updates
// driven by payment and policy events.
package orders

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/insureflow/internal/apperr"
	"github.com/joao-fontenele/insureflow/internal/domain"
)

// PlanSnapshotProvider resolves a plan as currently priced. It returns an
// apperr not-found error for missing or inactive plans.
type PlanSnapshotProvider interface {
	Snapshot(ctx context.Context, planID string) (*domain.PlanSnapshot, error)
}

type AdditionalFeature struct {
	FeatureName        string          `json:"feature_name"`
	FeatureDescription string          `json:"feature_description"`
	Cost               decimal.Decimal `json:"cost"`
}

type CreateInput struct {
	UserID             string
	PlanID             string
	Notes              *string
	AdditionalFeatures []AdditionalFeature
}

// UpdateInput carries the owner-editable fields. Nil fields are left as is.
type UpdateInput struct {
	Status    *domain.OrderStatus
	Notes     *string
	StartDate *time.Time
}

type ListInput struct {
	UserID   string
	Status   domain.OrderStatus
	PlanID   string
	Page     int
	PageSize int
}

type Page struct {
	Orders   []domain.Order
	Total    int
	Page     int
	PageSize int
}

const (
	recentLimit     = 10
	defaultPageSize = 10
	maxPageSize     = 100
)

type Service struct {
	store   Store
	plans   PlanSnapshotProvider
	events  domain.EventSink
	logger  *slog.Logger
	now     func() time.Time
	created metric.Int64Counter
}

func NewService(store Store, plans PlanSnapshotProvider, events domain.EventSink, logger *slog.Logger) *Service {
	if events == nil {
		events = domain.DiscardEvents
	}

	created, err := otel.Meter("insureflow/orders").Int64Counter("orders.created",
		metric.WithDescription("Orders successfully created"))
	if err != nil {
		logger.Warn("failed to create orders.created counter", "error", err)
	}

	return &Service{
		store:   store,
		plans:   plans,
		events:  events,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		created: created,
	}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Order, error) {
	if in.UserID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if in.PlanID == "" {
		return nil, apperr.Validation("plan_id is required")
	}
	for _, f := range in.AdditionalFeatures {
		if f.FeatureName == "" {
			return nil, apperr.Validation("additional feature name is required")
		}
		if f.Cost.IsNegative() {
			return nil, apperr.Validation("additional feature %q has a negative cost", f.FeatureName)
		}
	}

	plan, err := s.plans.Snapshot(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &domain.Order{
		UserID:         in.UserID,
		PlanID:         in.PlanID,
		Status:         domain.OrderStatusPending,
		PremiumAmount:  premium(plan, in.AdditionalFeatures),
		CoverageAmount: plan.CoverageAmount,
		DurationMonths: plan.DurationMonths,
		Notes:          in.Notes,
		Items:          orderItems(plan, in.AdditionalFeatures),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for attempt := 1; ; attempt++ {
		order.OrderNumber = newOrderNumber(now)
		err = s.store.Create(ctx, order)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateOrderNumber) || attempt == orderNumberAttempts {
			return nil, apperr.Persistence("create order", err)
		}
		s.logger.Warn("order number collision, retrying", "order_number", order.OrderNumber, "attempt", attempt)
	}

	order.Plan = plan

	if s.created != nil {
		s.created.Add(ctx, 1)
	}
	s.publish(ctx, domain.EventOrderCreated, order)

	s.logger.Info("order created", "order_id", order.ID, "order_number", order.OrderNumber, "user_id", order.UserID)
	return order, nil
}

// premium is the plan premium plus every additional feature, in exact
// decimal arithmetic.
func premium(plan *domain.PlanSnapshot, extras []AdditionalFeature) decimal.Decimal {
	total := plan.Premium
	for _, f := range extras {
		total = total.Add(f.Cost)
	}
	return total
}

func orderItems(plan *domain.PlanSnapshot, extras []AdditionalFeature) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(plan.Features)+len(extras))
	for _, f := range plan.Features {
		cost := decimal.Zero
		if f.AdditionalCost != nil {
			cost = *f.AdditionalCost
		}
		items = append(items, domain.OrderItem{
			FeatureName:        f.FeatureName,
			FeatureDescription: f.FeatureDescription,
			Cost:               cost,
			IsIncluded:         f.IsIncluded,
		})
	}
	for _, f := range extras {
		items = append(items, domain.OrderItem{
			FeatureName:        f.FeatureName,
			FeatureDescription: f.FeatureDescription,
			Cost:               f.Cost,
		})
	}
	return items
}

func (s *Service) Get(ctx context.Context, orderID, callerID string) (*domain.Order, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, apperr.Persistence("get order", err)
	}
	if order == nil || order.UserID != callerID {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	return order, nil
}

func (s *Service) Update(ctx context.Context, orderID, callerID string, in UpdateInput) (*domain.Order, error) {
	order, err := s.mutate(ctx, orderID, func(o *domain.Order) error {
		if o.UserID != callerID {
			return apperr.NotFound("order %s not found", orderID)
		}
		if o.Status != domain.OrderStatusPending {
			return apperr.StateConflict("order %s is %s, only pending orders can be edited", orderID, o.Status)
		}
		if in.Status != nil {
			if !o.Status.CanTransitionTo(*in.Status) {
				return apperr.StateConflict("order %s cannot move from %s to %s", orderID, o.Status, *in.Status)
			}
			o.Status = *in.Status
		}
		if in.Notes != nil {
			o.Notes = in.Notes
		}
		if in.StartDate != nil {
			start := *in.StartDate
			end := domain.AddMonths(start, o.DurationMonths)
			o.StartDate = &start
			o.EndDate = &end
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Cancelling through an edit is the same owner action as Cancel.
	if in.Status != nil && order.Status == domain.OrderStatusCancelled {
		s.publish(ctx, domain.EventOrderCancelled, order)
	} else {
		s.publish(ctx, domain.EventOrderUpdated, order)
	}
	s.logger.Info("order updated", "order_id", order.ID, "status", order.Status)
	return order, nil
}

func (s *Service) Cancel(ctx context.Context, orderID, callerID string) (*domain.Order, error) {
	order, err := s.mutate(ctx, orderID, func(o *domain.Order) error {
		if o.UserID != callerID {
			return apperr.NotFound("order %s not found", orderID)
		}
		if !o.Status.CanTransitionTo(domain.OrderStatusCancelled) {
			return apperr.StateConflict("order %s is %s and cannot be cancelled", orderID, o.Status)
		}
		o.Status = domain.OrderStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventOrderCancelled, order)
	s.logger.Info("order cancelled", "order_id", order.ID)
	return order, nil
}

// UpdateStatus is the privileged transition used by the worker, payment
// flows and the external expiry job.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error) {
	order, err := s.mutate(ctx, orderID, func(o *domain.Order) error {
		if !o.Status.CanTransitionTo(next) {
			return apperr.StateConflict("order %s cannot move from %s to %s", orderID, o.Status, next)
		}
		o.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventOrderUpdated, order)
	if next == domain.OrderStatusActive {
		s.publish(ctx, domain.EventOrderActivated, order)
	}

	s.logger.Info("order status updated", "order_id", order.ID, "status", order.Status)
	return order, nil
}

func (s *Service) List(ctx context.Context, in ListInput) (*Page, error) {
	if in.Page < 1 {
		in.Page = 1
	}
	if in.PageSize < 1 {
		in.PageSize = defaultPageSize
	}
	in.PageSize = min(in.PageSize, maxPageSize)

	orders, total, err := s.store.List(ctx, Filter{
		UserID: in.UserID,
		Status: in.Status,
		PlanID: in.PlanID,
		Limit:  in.PageSize,
		Offset: (in.Page - 1) * in.PageSize,
	})
	if err != nil {
		return nil, apperr.Persistence("list orders", err)
	}
	return &Page{Orders: orders, Total: total, Page: in.Page, PageSize: in.PageSize}, nil
}

func (s *Service) Recent(ctx context.Context, userID string) ([]domain.Order, error) {
	orders, _, err := s.store.List(ctx, Filter{UserID: userID, Limit: recentLimit})
	if err != nil {
		return nil, apperr.Persistence("list recent orders", err)
	}
	return orders, nil
}

func (s *Service) Stats(ctx context.Context, userID string) (domain.OrderStats, error) {
	stats, err := s.store.Stats(ctx, userID)
	if err != nil {
		return domain.OrderStats{}, apperr.Persistence("order stats", err)
	}
	return stats, nil
}

func (s *Service) mutate(ctx context.Context, orderID string, fn func(*domain.Order) error) (*domain.Order, error) {
	order, err := s.store.Mutate(ctx, orderID, fn)
	if err != nil {
		if apperr.Kind(err) == "internal" {
			return nil, apperr.Persistence("update order", err)
		}
		return nil, err
	}
	if order == nil {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	return order, nil
}

func (s *Service) publish(ctx context.Context, eventType string, order *domain.Order) {
	payload := domain.OrderEventPayload{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		PlanID:        order.PlanID,
		Status:        order.Status,
		PremiumAmount: order.PremiumAmount.StringFixed(2),
	}
	if order.Plan != nil {
		payload.PlanName = order.Plan.Name
	}

	if err := s.events.Publish(ctx, domain.NewEvent(eventType, order.ID, payload)); err != nil {
		s.logger.Error("failed to publish order event", "error", err, "event", eventType, "order_id", order.ID)
	}
}
