package domain

import "testing"

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	all := []PaymentStatus{
		PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded,
	}
	legal := map[[2]PaymentStatus]bool{
		{PaymentStatusPending, PaymentStatusProcessing}:   true,
		{PaymentStatusPending, PaymentStatusCancelled}:    true,
		{PaymentStatusProcessing, PaymentStatusCompleted}: true,
		{PaymentStatusProcessing, PaymentStatusFailed}:    true,
		{PaymentStatusProcessing, PaymentStatusCancelled}: true,
		{PaymentStatusCompleted, PaymentStatusRefunded}:   true,
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]PaymentStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestPaymentStatus_Active(t *testing.T) {
	if PaymentStatusFailed.Active() || PaymentStatusCancelled.Active() {
		t.Error("failed and cancelled payments must not count as active")
	}
	for _, s := range []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusRefunded} {
		if !s.Active() {
			t.Errorf("%s should be active", s)
		}
	}
}

func TestParsePaymentMethod(t *testing.T) {
	if _, err := ParsePaymentMethod("wechat_pay"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ParsePaymentMethod("paypal"); err == nil {
		t.Error("expected error for unknown method")
	}
}
