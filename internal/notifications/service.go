// Package notifications renders templated messages and delivers them through
// channel providers, keeping retry bookkeeping in the store.
package notifications

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/insureflow/internal/apperr"
	"github.com/joao-fontenele/insureflow/internal/domain"
)

const (
	DefaultBulkConcurrency = 8

	defaultPageSize = 10
	maxPageSize     = 100
)

type CreateInput struct {
	UserID       string
	Type         domain.NotificationType
	Title        string
	Content      string
	Channel      domain.NotificationChannel
	Recipient    string
	TemplateID   string
	TemplateData map[string]string
	ScheduledAt  *time.Time
}

type SendInput struct {
	UserID       string
	Type         domain.NotificationType
	Channel      domain.NotificationChannel
	Recipient    string
	TemplateID   string
	TemplateData map[string]string
	ScheduledAt  *time.Time
}

type BulkInput struct {
	UserIDs      []string
	Type         domain.NotificationType
	Channel      domain.NotificationChannel
	TemplateID   string
	TemplateData map[string]string
	ScheduledAt  *time.Time
}

type ListInput struct {
	UserID   string
	Status   domain.NotificationStatus
	Type     domain.NotificationType
	Channel  domain.NotificationChannel
	Page     int
	PageSize int
}

type Page struct {
	Notifications []domain.Notification
	Total         int
	Page          int
	PageSize      int
}

type Option func(*Service)

// WithBulkConcurrency bounds how many recipients of a bulk send are handled
// at once. Values below 1 are ignored.
func WithBulkConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bulkConcurrency = n
		}
	}
}

func WithTemplates(t *TemplateSet) Option {
	return func(s *Service) { s.templates = t }
}

type Service struct {
	store           Store
	providers       Registry
	recipients      RecipientResolver
	templates       *TemplateSet
	logger          *slog.Logger
	now             func() time.Time
	bulkConcurrency int
	dispatched      metric.Int64Counter
}

func NewService(store Store, providers Registry, recipients RecipientResolver, logger *slog.Logger, opts ...Option) *Service {
	dispatched, err := otel.Meter("insureflow/notifications").Int64Counter("notifications.dispatched",
		metric.WithDescription("Delivery attempts by channel and outcome"))
	if err != nil {
		logger.Warn("failed to create notifications.dispatched counter", "error", err)
	}

	s := &Service{
		store:           store,
		providers:       providers,
		recipients:      recipients,
		templates:       DefaultTemplates(),
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
		bulkConcurrency: DefaultBulkConcurrency,
		dispatched:      dispatched,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a pending notification without delivering it.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Notification, error) {
	if err := validateTarget(in.UserID, in.Type, in.Channel); err != nil {
		return nil, err
	}
	if in.Recipient == "" {
		return nil, apperr.Validation("recipient is required")
	}
	if in.Content == "" {
		return nil, apperr.Validation("content is required")
	}

	n := s.newNotification(in.UserID, in.Type, in.Channel, in.Recipient, in.TemplateID, in.TemplateData, in.ScheduledAt)
	n.Title = in.Title
	n.Content = in.Content

	if err := s.store.Create(ctx, n); err != nil {
		return nil, apperr.Persistence("create notification", err)
	}

	s.logger.Info("notification created", "notification_id", n.ID, "user_id", n.UserID, "channel", n.Channel)
	return n, nil
}

// Send renders the template for (type, channel), stores the notification and
// delivers it right away unless it is scheduled. Without a recipient the
// user's address is resolved. A failed delivery is
// recorded on the notification and does not fail the call.
func (s *Service) Send(ctx context.Context, in SendInput) (*domain.Notification, error) {
	if err := validateTarget(in.UserID, in.Type, in.Channel); err != nil {
		return nil, err
	}

	tmpl, ok := s.templates.Lookup(in.Type, in.Channel)
	if !ok {
		return nil, apperr.Validation("no template for %s over %s", in.Type, in.Channel)
	}

	recipient := in.Recipient
	if recipient == "" {
		var err error
		if recipient, err = s.recipients.Recipient(ctx, in.UserID, in.Channel); err != nil {
			return nil, apperr.External("recipient directory", err)
		}
	}

	n, err := s.render(ctx, tmpl, in.UserID, recipient, in.TemplateID, in.TemplateData, in.ScheduledAt)
	if err != nil {
		return nil, err
	}

	if n.ScheduledAt != nil {
		s.logger.Info("notification scheduled", "notification_id", n.ID, "scheduled_at", n.ScheduledAt)
		return n, nil
	}
	return s.dispatch(ctx, n)
}

// SendBulk sends one notification per user. Users are handled independently
// and concurrently; one user's failure never stops the others. The result
// keeps the order of userIDs and leaves out users whose notification could
// not be stored.
func (s *Service) SendBulk(ctx context.Context, in BulkInput) ([]domain.Notification, error) {
	if len(in.UserIDs) == 0 {
		return nil, apperr.Validation("user_ids must not be empty")
	}
	if err := validateKind(in.Type, in.Channel); err != nil {
		return nil, err
	}

	tmpl, ok := s.templates.Lookup(in.Type, in.Channel)
	if !ok {
		return nil, apperr.Validation("no template for %s over %s", in.Type, in.Channel)
	}

	results := make([]*domain.Notification, len(in.UserIDs))

	var g errgroup.Group
	g.SetLimit(s.bulkConcurrency)

	for i, userID := range in.UserIDs {
		g.Go(func() error {
			n, err := s.sendOne(ctx, tmpl, userID, in)
			if err != nil {
				s.logger.Error("bulk notification failed", "user_id", userID, "type", in.Type, "error", err)
				return nil
			}
			results[i] = n
			return nil
		})
	}
	_ = g.Wait()

	created := make([]domain.Notification, 0, len(results))
	for _, n := range results {
		if n != nil {
			created = append(created, *n)
		}
	}

	s.logger.Info("bulk notification sent", "type", in.Type, "channel", in.Channel,
		"requested", len(in.UserIDs), "created", len(created))
	return created, nil
}

func (s *Service) sendOne(ctx context.Context, tmpl Template, userID string, in BulkInput) (*domain.Notification, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}

	recipient, err := s.recipients.Recipient(ctx, userID, in.Channel)
	if err != nil {
		return nil, apperr.External("recipient directory", err)
	}

	n, err := s.render(ctx, tmpl, userID, recipient, in.TemplateID, in.TemplateData, in.ScheduledAt)
	if err != nil {
		return nil, err
	}
	if n.ScheduledAt != nil {
		return n, nil
	}
	return s.dispatch(ctx, n)
}

func (s *Service) render(ctx context.Context, tmpl Template, userID, recipient, templateID string,
	data map[string]string, scheduledAt *time.Time) (*domain.Notification, error) {
	if templateID == "" {
		templateID = tmpl.ID
	}

	n := s.newNotification(userID, tmpl.Type, tmpl.Channel, recipient, templateID, data, scheduledAt)
	n.Title, n.Content = tmpl.Render(data)

	if err := s.store.Create(ctx, n); err != nil {
		return nil, apperr.Persistence("create notification", err)
	}
	return n, nil
}

func (s *Service) newNotification(userID string, typ domain.NotificationType, channel domain.NotificationChannel,
	recipient, templateID string, data map[string]string, scheduledAt *time.Time) *domain.Notification {
	now := s.now()
	n := &domain.Notification{
		UserID:       userID,
		Type:         typ,
		Channel:      channel,
		Status:       domain.NotificationStatusPending,
		Recipient:    recipient,
		TemplateData: data,
		ScheduledAt:  scheduledAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if templateID != "" {
		n.TemplateID = &templateID
	}
	return n
}

// dispatch delivers a pending notification and records the outcome. Every
// failure path, including a missing provider, ends in MarkFailed so the
// attempt is counted exactly once.
func (s *Service) dispatch(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	var failure string

	provider, ok := s.providers.Lookup(n.Channel)
	if !ok {
		failure = "no provider for channel " + string(n.Channel)
	} else {
		// The provider may already have delivered by the time the caller
		// gives up, so the outcome is always recorded.
		res, err := provider.Send(context.WithoutCancel(ctx), n)
		switch {
		case err != nil:
			failure = err.Error()
		case !res.Success:
			failure = res.Error
			if failure == "" {
				failure = "provider rejected delivery"
			}
		default:
			s.logger.Info("notification sent", "notification_id", n.ID, "channel", n.Channel, "message_id", res.MessageID)
		}
	}

	ctx = context.WithoutCancel(ctx)

	var (
		stored *domain.Notification
		err    error
	)
	if failure == "" {
		stored, err = s.store.MarkSent(ctx, n.ID, s.now())
	} else {
		s.logger.Warn("notification delivery failed", "notification_id", n.ID, "channel", n.Channel, "error", failure)
		stored, err = s.store.MarkFailed(ctx, n.ID, failure)
	}
	status := domain.NotificationStatusSent
	if failure != "" {
		status = domain.NotificationStatusFailed
	}
	if err != nil {
		// The notification is stored either way; it stays in its claimed state.
		s.logger.Error("failed to record notification outcome", "notification_id", n.ID,
			"status", status, "error", err)
		return n, nil
	}

	if s.dispatched != nil {
		s.dispatched.Add(ctx, 1, metric.WithAttributes(
			attribute.String("channel", string(n.Channel)),
			attribute.String("status", string(status)),
		))
	}

	if stored == nil {
		// Deleted, or settled by another dispatcher while the provider ran.
		s.logger.Warn("notification no longer pending after delivery", "notification_id", n.ID)
		return n, nil
	}
	return stored, nil
}

// Resend moves a failed notification back to pending and delivers it again.
func (s *Service) Resend(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	claimed, err := s.store.Claim(ctx, id)
	if err != nil {
		return nil, apperr.Persistence("claim notification", err)
	}
	if !claimed {
		return nil, apperr.StateConflict("notification %s is %s, only failed notifications can be resent", id, n.Status)
	}

	n.Status = domain.NotificationStatusPending
	return s.dispatch(ctx, n)
}

// DispatchScheduled delivers a scheduled notification whose time has come.
// It is the hook for an external scheduler.
func (s *Service) DispatchScheduled(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	claimed, err := s.store.ClaimScheduled(ctx, id, now)
	if err != nil {
		return nil, apperr.Persistence("claim scheduled notification", err)
	}
	if !claimed {
		switch {
		case n.Status != domain.NotificationStatusPending:
			return nil, apperr.StateConflict("notification %s is %s", id, n.Status)
		case n.ScheduledAt == nil:
			return nil, apperr.StateConflict("notification %s is not scheduled", id)
		case n.ScheduledAt.After(now):
			return nil, apperr.StateConflict("notification %s is scheduled for %s", id, n.ScheduledAt.Format(time.RFC3339))
		default:
			return nil, apperr.StateConflict("notification %s was already dispatched", id)
		}
	}

	n.ScheduledAt = nil
	return s.dispatch(ctx, n)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Notification, error) {
	return s.get(ctx, id)
}

func (s *Service) get(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperr.Persistence("get notification", err)
	}
	if n == nil {
		return nil, apperr.NotFound("notification %s not found", id)
	}
	return n, nil
}

func (s *Service) List(ctx context.Context, in ListInput) (Page, error) {
	page, size := in.Page, in.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	notifications, total, err := s.store.List(ctx, Filter{
		UserID:  in.UserID,
		Status:  in.Status,
		Type:    in.Type,
		Channel: in.Channel,
		Limit:   size,
		Offset:  (page - 1) * size,
	})
	if err != nil {
		return Page{}, apperr.Persistence("list notifications", err)
	}

	return Page{Notifications: notifications, Total: total, Page: page, PageSize: size}, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string, page, size int) (Page, error) {
	if userID == "" {
		return Page{}, apperr.Validation("user id is required")
	}
	return s.List(ctx, ListInput{UserID: userID, Page: page, PageSize: size})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return apperr.Persistence("delete notification", err)
	}
	if !deleted {
		return apperr.NotFound("notification %s not found", id)
	}
	s.logger.Info("notification deleted", "notification_id", id)
	return nil
}

func (s *Service) Stats(ctx context.Context) (domain.NotificationStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return domain.NotificationStats{}, apperr.Persistence("notification stats", err)
	}
	return stats, nil
}

func (s *Service) Templates() []Template {
	return s.templates.All()
}

func validateTarget(userID string, typ domain.NotificationType, channel domain.NotificationChannel) error {
	if userID == "" {
		return apperr.Validation("user_id is required")
	}
	return validateKind(typ, channel)
}

func validateKind(typ domain.NotificationType, channel domain.NotificationChannel) error {
	if _, err := domain.ParseNotificationType(string(typ)); err != nil {
		return apperr.Validation("%v", err)
	}
	if _, err := domain.ParseNotificationChannel(string(channel)); err != nil {
		return apperr.Validation("%v", err)
	}
	return nil
}
