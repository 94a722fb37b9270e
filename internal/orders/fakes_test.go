package orders

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/insureflow/internal/apperr"
	"github.com/joao-fontenele/insureflow/internal/domain"
)

type memStore struct {
	mu         sync.Mutex
	orders     map[string]domain.Order
	seq        int
	duplicates int
	createErr  error
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]domain.Order)}
}

func (s *memStore) Create(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return s.createErr
	}
	if s.duplicates > 0 {
		s.duplicates--
		return ErrDuplicateOrderNumber
	}

	s.seq++
	order.ID = fmt.Sprintf("order-%d", s.seq)
	for i := range order.Items {
		order.Items[i].ID = fmt.Sprintf("%s-item-%d", order.ID, i)
	}

	stored := *order
	stored.Items = append([]domain.OrderItem(nil), order.Items...)
	stored.Plan = nil
	s.orders[order.ID] = stored
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *memStore) List(_ context.Context, f Filter) ([]domain.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Order
	for _, o := range s.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PlanID != "" && o.PlanID != f.PlanID {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	if f.Offset >= total {
		return []domain.Order{}, total, nil
	}
	end := min(f.Offset+f.Limit, total)
	return matched[f.Offset:end], total, nil
}

func (s *memStore) Mutate(_ context.Context, id string, fn func(*domain.Order) error) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	if err := fn(&o); err != nil {
		return nil, err
	}
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	return &o, nil
}

func (s *memStore) Stats(_ context.Context, userID string) (domain.OrderStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats domain.OrderStats
	for _, o := range s.orders {
		if o.UserID != userID {
			continue
		}
		stats.TotalOrders++
		stats.TotalRevenue = stats.TotalRevenue.Add(o.PremiumAmount)
		switch o.Status {
		case domain.OrderStatusActive:
			stats.ActiveOrders++
		case domain.OrderStatusPending:
			stats.PendingOrders++
		}
	}
	if stats.TotalOrders > 0 {
		stats.AverageOrderValue = stats.TotalRevenue.Div(decimal.NewFromInt(int64(stats.TotalOrders))).Round(2)
	}
	return stats, nil
}

func (s *memStore) put(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type fakePlans map[string]*domain.PlanSnapshot

func (p fakePlans) Snapshot(_ context.Context, planID string) (*domain.PlanSnapshot, error) {
	plan, ok := p[planID]
	if !ok || !plan.IsActive {
		return nil, apperr.NotFound("plan %s not found", planID)
	}
	return plan, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEvents) Publish(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func premiumPlan() *domain.PlanSnapshot {
	roadside := decimal.RequireFromString("15.00")
	return &domain.PlanSnapshot{
		ID:             "plan-premium",
		Name:           "Premium Health",
		Category:       "health",
		Premium:        decimal.RequireFromString("299.99"),
		CoverageAmount: decimal.RequireFromString("500000"),
		DurationMonths: 12,
		IsActive:       true,
		Features: []domain.PlanFeature{
			{FeatureName: "Hospitalization", FeatureDescription: "Inpatient care", IsIncluded: true},
			{FeatureName: "Roadside", FeatureDescription: "Towing", IsIncluded: false, AdditionalCost: &roadside},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestService() (*Service, *memStore, *recordingEvents) {
	store := newMemStore()
	events := &recordingEvents{}
	plans := fakePlans{
		"plan-premium": premiumPlan(),
		"plan-retired": {ID: "plan-retired", Premium: decimal.NewFromInt(10), IsActive: false},
	}
	return NewService(store, plans, events, discardLogger()), store, events
}
