package domain

import (
	"testing"
	"time"
)

func TestNotificationStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to NotificationStatus
		want     bool
	}{
		{NotificationStatusPending, NotificationStatusSent, true},
		{NotificationStatusPending, NotificationStatusFailed, true},
		{NotificationStatusFailed, NotificationStatusPending, true},
		{NotificationStatusSent, NotificationStatusPending, false},
		{NotificationStatusFailed, NotificationStatusSent, false},
		{NotificationStatusSent, NotificationStatusFailed, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSuccessRate(t *testing.T) {
	if got := SuccessRate(0, 0); got != 0 {
		t.Errorf("expected 0 for empty total, got %v", got)
	}
	if got := SuccessRate(3, 4); got != 75 {
		t.Errorf("expected 75, got %v", got)
	}
	if got := SuccessRate(5, 5); got != 100 {
		t.Errorf("expected 100, got %v", got)
	}
}

func TestNotification_Scheduled(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	n := &Notification{Status: NotificationStatusPending, ScheduledAt: &later}
	if !n.Scheduled(now) {
		t.Error("expected future pending notification to be scheduled")
	}

	n.ScheduledAt = &earlier
	if n.Scheduled(now) {
		t.Error("expected due notification not to be scheduled")
	}

	n.ScheduledAt = nil
	if n.Scheduled(now) {
		t.Error("expected unscheduled notification")
	}
}
