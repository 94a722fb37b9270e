package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

type memStore struct {
	mu            sync.Mutex
	notifications map[string]domain.Notification
	seq           int
	failCreateFor string
	failMarkFor   string
}

func newMemStore() *memStore {
	return &memStore{notifications: make(map[string]domain.Notification)}
}

func (s *memStore) Create(_ context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCreateFor != "" && n.UserID == s.failCreateFor {
		return errors.New("connection reset")
	}
	s.seq++
	n.ID = fmt.Sprintf("ntf-%03d", s.seq)
	s.notifications[n.ID] = *n
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (s *memStore) List(_ context.Context, f Filter) ([]domain.Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Notification
	for _, n := range s.notifications {
		if (f.UserID == "" || n.UserID == f.UserID) &&
			(f.Status == "" || n.Status == f.Status) &&
			(f.Type == "" || n.Type == f.Type) &&
			(f.Channel == "" || n.Channel == f.Channel) {
			matched = append(matched, n)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	if f.Offset >= total {
		return []domain.Notification{}, total, nil
	}
	return matched[f.Offset:min(f.Offset+f.Limit, total)], total, nil
}

func (s *memStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.notifications[id]
	delete(s.notifications, id)
	return ok, nil
}

func (s *memStore) Claim(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.Status != domain.NotificationStatusFailed {
		return false, nil
	}
	n.Status = domain.NotificationStatusPending
	s.notifications[id] = n
	return true, nil
}

func (s *memStore) ClaimScheduled(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.Status != domain.NotificationStatusPending || n.ScheduledAt == nil || n.ScheduledAt.After(now) {
		return false, nil
	}
	n.ScheduledAt = nil
	s.notifications[id] = n
	return true, nil
}

func (s *memStore) MarkSent(_ context.Context, id string, sentAt time.Time) (*domain.Notification, error) {
	return s.settle(id, func(n *domain.Notification) {
		n.Status = domain.NotificationStatusSent
		n.SentAt = &sentAt
		n.ErrorMessage = nil
	})
}

func (s *memStore) MarkFailed(_ context.Context, id, errMsg string) (*domain.Notification, error) {
	return s.settle(id, func(n *domain.Notification) {
		n.Status = domain.NotificationStatusFailed
		n.ErrorMessage = &errMsg
		n.RetryCount++
	})
}

func (s *memStore) settle(id string, fn func(*domain.Notification)) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failMarkFor != "" && s.notifications[id].UserID == s.failMarkFor {
		return nil, errors.New("connection reset")
	}

	n, ok := s.notifications[id]
	if !ok || n.Status != domain.NotificationStatusPending {
		return nil, nil
	}
	fn(&n)
	s.notifications[id] = n
	return &n, nil
}

func (s *memStore) Stats(_ context.Context) (domain.NotificationStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st domain.NotificationStats
	for _, n := range s.notifications {
		st.TotalCount++
		switch n.Status {
		case domain.NotificationStatusSent:
			st.SentCount++
		case domain.NotificationStatusFailed:
			st.FailedCount++
		case domain.NotificationStatusPending:
			st.PendingCount++
		}
	}
	st.SuccessRate = domain.SuccessRate(st.SentCount, st.TotalCount)
	return st, nil
}

func (s *memStore) stored(id string) domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifications[id]
}

// fakeProvider succeeds unless the recipient is listed in reject or fail.
type fakeProvider struct {
	mu     sync.Mutex
	reject map[string]bool
	fail   map[string]bool
	sent   []string
}

func (p *fakeProvider) Send(_ context.Context, n *domain.Notification) (SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sent = append(p.sent, n.Recipient)
	switch {
	case p.fail[n.Recipient]:
		return SendResult{}, errors.New("relay unreachable")
	case p.reject[n.Recipient]:
		return SendResult{Error: "mailbox unavailable"}, nil
	}
	return SendResult{Success: true, MessageID: "msg-" + n.ID}, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fixture struct {
	store *memStore
	email *fakeProvider
	sms   *fakeProvider
	svc   *Service
	now   time.Time
}

func newFixture() *fixture {
	f := &fixture{
		store: newMemStore(),
		email: &fakeProvider{reject: map[string]bool{}, fail: map[string]bool{}},
		sms:   &fakeProvider{reject: map[string]bool{}, fail: map[string]bool{}},
		now:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	providers := Registry{
		domain.ChannelEmail: f.email,
		domain.ChannelSMS:   f.sms,
		domain.ChannelInApp: InAppProvider{},
	}
	f.svc = NewService(f.store, providers, MailboxRecipients{}, discardLogger(), WithBulkConcurrency(2))
	f.svc.now = func() time.Time { return f.now }
	return f
}

func orderCreatedInput(recipient string) SendInput {
	return SendInput{
		UserID:    "user-1",
		Type:      domain.NotificationTypeOrderCreated,
		Channel:   domain.ChannelEmail,
		Recipient: recipient,
		TemplateData: map[string]string{
			"username":    "Ana",
			"orderNumber": "ORD-1700000000-0042",
			"planName":    "Premium Health",
			"amount":      "349.99",
		},
	}
}
