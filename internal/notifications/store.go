package notifications

import (
	"context"
	"time"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

type Filter struct {
	UserID  string
	Status  domain.NotificationStatus
	Type    domain.NotificationType
	Channel domain.NotificationChannel
	Limit   int
	Offset  int
}

// Store persists notifications. Every status write is conditional on the
// current status, so concurrent dispatchers cannot both settle one
// notification. Lookups and Mark* return nil when the row is unknown or not
// in the expected status.
type Store interface {
	Create(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, f Filter) ([]domain.Notification, int, error)
	Delete(ctx context.Context, id string) (bool, error)

	// Claim moves a failed notification back to pending.
	Claim(ctx context.Context, id string) (bool, error)
	// ClaimScheduled releases a pending notification whose schedule has
	// come due by clearing scheduled_at. Only one caller wins.
	ClaimScheduled(ctx context.Context, id string, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) (*domain.Notification, error)
	// MarkFailed records the error and increments retry_count by one in the
	// same write.
	MarkFailed(ctx context.Context, id, errMsg string) (*domain.Notification, error)

	Stats(ctx context.Context) (domain.NotificationStats, error)
}
