package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

type memStore struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
	seq      int
}

func newMemStore() *memStore {
	return &memStore{payments: make(map[string]domain.Payment)}
}

func (s *memStore) Create(_ context.Context, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.payments {
		if existing.OrderID == p.OrderID && existing.Status.Active() {
			return ErrActivePaymentExists
		}
	}
	s.seq++
	p.ID = fmt.Sprintf("pay-%d", s.seq)
	s.payments[p.ID] = *p
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) GetByTransactionID(_ context.Context, transactionID string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.TransactionID != nil && *p.TransactionID == transactionID {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *memStore) List(_ context.Context, f Filter) ([]domain.Payment, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Payment
	for _, p := range s.payments {
		if (f.UserID == "" || p.UserID == f.UserID) &&
			(f.OrderID == "" || p.OrderID == f.OrderID) &&
			(f.Status == "" || p.Status == f.Status) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	if f.Offset >= total {
		return []domain.Payment{}, total, nil
	}
	return matched[f.Offset:min(f.Offset+f.Limit, total)], total, nil
}

// Mutate holds the store lock while fn runs, like a row lock would.
func (s *memStore) Mutate(_ context.Context, id string, fn func(*domain.Payment) error) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	if err := fn(&p); err != nil {
		if errors.Is(err, ErrNoChange) {
			current := s.payments[id]
			return &current, nil
		}
		return nil, err
	}
	s.payments[id] = p
	return &p, nil
}

func (s *memStore) Stats(_ context.Context, userID string) (domain.PaymentStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st domain.PaymentStats
	for _, p := range s.payments {
		if userID != "" && p.UserID != userID {
			continue
		}
		st.TotalCount++
		st.TotalAmount = st.TotalAmount.Add(p.Amount)
		switch p.Status {
		case domain.PaymentStatusCompleted:
			st.CompletedCount++
			st.CompletedAmount = st.CompletedAmount.Add(p.Amount)
		case domain.PaymentStatusFailed:
			st.FailedCount++
		case domain.PaymentStatusRefunded:
			st.RefundedCount++
			st.RefundedAmount = st.RefundedAmount.Add(p.Amount)
		}
	}
	finishStats(&st)
	return st, nil
}

func (s *memStore) put(p domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
}

func (s *memStore) status(id string) domain.PaymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments[id].Status
}

type fakeGateway struct {
	mu sync.Mutex

	result      Result
	err         error
	refund      Result
	refundErr   error
	query       QueryResult
	queryErr    error
	onInitiate  func()
	initiated   []InitiateRequest
	refunded    []RefundRequest
	queriedWith []QueryRequest
}

func (g *fakeGateway) Initiate(_ context.Context, req InitiateRequest) (Result, error) {
	g.mu.Lock()
	g.initiated = append(g.initiated, req)
	hook := g.onInitiate
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return g.result, g.err
}

func (g *fakeGateway) Query(_ context.Context, req QueryRequest) (QueryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queriedWith = append(g.queriedWith, req)
	return g.query, g.queryErr
}

func (g *fakeGateway) Refund(_ context.Context, req RefundRequest) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunded = append(g.refunded, req)
	return g.refund, g.refundErr
}

func (g *fakeGateway) initiateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.initiated)
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

func (r *recordingEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (r *recordingEvents) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fixture struct {
	svc     *Service
	store   *memStore
	gateway *fakeGateway
	events  *recordingEvents
}

func newFixture() *fixture {
	store := newMemStore()
	gw := &fakeGateway{
		result: Result{Success: true, TransactionID: "tx-1", Message: "Success"},
		refund: Result{Success: true, Message: "refund accepted"},
	}
	events := &recordingEvents{}
	registry := Registry{
		domain.PaymentMethodAlipay:    gw,
		domain.PaymentMethodWechatPay: gw,
	}
	return &fixture{
		svc:     NewService(store, registry, events, discardLogger()),
		store:   store,
		gateway: gw,
		events:  events,
	}
}

func (f *fixture) seed(id string, status domain.PaymentStatus, transactionID string) {
	p := domain.Payment{
		ID:       id,
		OrderID:  "order-" + id,
		UserID:   "user-1",
		Amount:   decimal.RequireFromString("349.99"),
		Currency: "CNY",
		Status:   status,
		Method:   domain.PaymentMethodAlipay,
	}
	if transactionID != "" {
		p.TransactionID = &transactionID
	}
	f.store.put(p)
}
