package domain

import (
	"fmt"
	"time"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

var notificationTransitions = map[NotificationStatus][]NotificationStatus{
	NotificationStatusPending: {NotificationStatusSent, NotificationStatusFailed},
	NotificationStatusFailed:  {NotificationStatusPending},
}

func ParseNotificationStatus(s string) (NotificationStatus, error) {
	st := NotificationStatus(s)
	switch st {
	case NotificationStatusPending, NotificationStatusSent, NotificationStatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown notification status %q", s)
}

func (s NotificationStatus) CanTransitionTo(next NotificationStatus) bool {
	return contains(notificationTransitions[s], next)
}

func (s *NotificationStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, s, ParseNotificationStatus)
}

type NotificationType string

const (
	NotificationTypeOrderCreated     NotificationType = "order_created"
	NotificationTypePaymentCompleted NotificationType = "payment_completed"
	NotificationTypePaymentFailed    NotificationType = "payment_failed"
	NotificationTypePolicyActivated  NotificationType = "policy_activated"
	NotificationTypePolicyExpiring   NotificationType = "policy_expiring"
	NotificationTypeClaimSubmitted   NotificationType = "claim_submitted"
	NotificationTypeClaimApproved    NotificationType = "claim_approved"
	NotificationTypeClaimRejected    NotificationType = "claim_rejected"
	NotificationTypeWelcome          NotificationType = "welcome"
	NotificationTypePasswordReset    NotificationType = "password_reset"
	NotificationTypePromotional      NotificationType = "promotional"
)

func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(s)
	switch t {
	case NotificationTypeOrderCreated, NotificationTypePaymentCompleted, NotificationTypePaymentFailed,
		NotificationTypePolicyActivated, NotificationTypePolicyExpiring, NotificationTypeClaimSubmitted,
		NotificationTypeClaimApproved, NotificationTypeClaimRejected, NotificationTypeWelcome,
		NotificationTypePasswordReset, NotificationTypePromotional:
		return t, nil
	}
	return "", fmt.Errorf("unknown notification type %q", s)
}

func (t *NotificationType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, t, ParseNotificationType)
}

type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
	ChannelPush  NotificationChannel = "push"
	ChannelInApp NotificationChannel = "in_app"
)

func ParseNotificationChannel(s string) (NotificationChannel, error) {
	c := NotificationChannel(s)
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return c, nil
	}
	return "", fmt.Errorf("unknown notification channel %q", s)
}

func (c *NotificationChannel) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, c, ParseNotificationChannel)
}

type Notification struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id"`
	Type         NotificationType    `json:"type"`
	Title        string              `json:"title"`
	Content      string              `json:"content"`
	Channel      NotificationChannel `json:"channel"`
	Status       NotificationStatus  `json:"status"`
	Recipient    string              `json:"recipient"`
	TemplateID   *string             `json:"template_id,omitempty"`
	TemplateData map[string]string   `json:"template_data,omitempty"`
	ScheduledAt  *time.Time          `json:"scheduled_at,omitempty"`
	SentAt       *time.Time          `json:"sent_at,omitempty"`
	RetryCount   int                 `json:"retry_count"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Scheduled reports whether the notification waits for an external trigger.
func (n *Notification) Scheduled(now time.Time) bool {
	return n.Status == NotificationStatusPending && n.ScheduledAt != nil && n.ScheduledAt.After(now)
}

type NotificationStats struct {
	TotalCount   int     `json:"total_count"`
	SentCount    int     `json:"sent_count"`
	FailedCount  int     `json:"failed_count"`
	PendingCount int     `json:"pending_count"`
	SuccessRate  float64 `json:"success_rate"`
}

// SuccessRate is sent/total as a percentage, 0 when nothing was sent yet.
func SuccessRate(sent, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(sent) / float64(total) * 100
}
