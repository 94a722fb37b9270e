package payments

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/insureflow/internal/apperr"
	"github.com/joao-fontenele/insureflow/internal/domain"
)

func validInput() CreateInput {
	return CreateInput{
		OrderID: "order-1",
		UserID:  "user-1",
		Amount:  decimal.RequireFromString("349.99"),
		Method:  domain.PaymentMethodAlipay,
	}
}

func TestService_Create(t *testing.T) {
	f := newFixture()

	p, err := f.svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != domain.PaymentStatusPending {
		t.Errorf("expected pending, got %s", p.Status)
	}
	if p.Currency != DefaultCurrency {
		t.Errorf("expected default currency, got %q", p.Currency)
	}

	_, err = f.svc.Create(context.Background(), validInput())
	if !errors.Is(err, apperr.ErrStateConflict) {
		t.Errorf("expected state conflict for second active payment, got %v", err)
	}

	if _, err := f.svc.Cancel(context.Background(), p.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := f.svc.Create(context.Background(), validInput()); err != nil {
		t.Errorf("expected new payment after cancellation, got %v", err)
	}
}

func TestService_CreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*CreateInput)
	}{
		{name: "zero amount", modify: func(in *CreateInput) { in.Amount = decimal.Zero }},
		{name: "negative amount", modify: func(in *CreateInput) { in.Amount = decimal.NewFromInt(-1) }},
		{name: "sub-cent amount", modify: func(in *CreateInput) { in.Amount = decimal.RequireFromString("1.005") }},
		{name: "bad currency", modify: func(in *CreateInput) { in.Currency = "yuan" }},
		{name: "no gateway", modify: func(in *CreateInput) { in.Method = domain.PaymentMethodApplePay }},
		{name: "missing order", modify: func(in *CreateInput) { in.OrderID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			in := validInput()
			tt.modify(&in)

			_, err := f.svc.Create(context.Background(), in)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_Process(t *testing.T) {
	t.Run("gateway accepts", func(t *testing.T) {
		f := newFixture()
		f.seed("p1", domain.PaymentStatusPending, "")

		p, err := f.svc.Process(context.Background(), "p1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Status != domain.PaymentStatusCompleted {
			t.Errorf("expected completed, got %s", p.Status)
		}
		if p.TransactionID == nil || *p.TransactionID != "tx-1" {
			t.Errorf("expected transaction id tx-1, got %v", p.TransactionID)
		}
		if p.ProcessedAt == nil {
			t.Error("expected processed_at to be set")
		}
		if f.events.count(domain.EventOrderPaid) != 1 {
			t.Errorf("expected one order.paid event, got %d", f.events.count(domain.EventOrderPaid))
		}

		req := f.gateway.initiated[0]
		if req.PaymentID != "p1" || req.OrderID != "order-p1" || !req.Amount.Equal(decimal.RequireFromString("349.99")) || req.Currency != "CNY" {
			t.Errorf("unexpected gateway request: %+v", req)
		}
	})

	t.Run("gateway declines", func(t *testing.T) {
		f := newFixture()
		f.gateway.result = Result{Success: false, Message: "insufficient funds"}
		f.seed("p1", domain.PaymentStatusPending, "")

		p, err := f.svc.Process(context.Background(), "p1")
		if err != nil {
			t.Fatalf("decline should not be an error, got %v", err)
		}
		if p.Status != domain.PaymentStatusFailed {
			t.Errorf("expected failed, got %s", p.Status)
		}
		if p.GatewayResponse == nil || *p.GatewayResponse != "insufficient funds" {
			t.Errorf("expected decline message, got %v", p.GatewayResponse)
		}
		if f.events.count(domain.EventPaymentFailed) != 1 {
			t.Error("expected payment.failed event")
		}
	})

	t.Run("gateway unreachable", func(t *testing.T) {
		f := newFixture()
		f.gateway.err = errors.New("dial tcp: connection refused")
		f.seed("p1", domain.PaymentStatusPending, "")

		_, err := f.svc.Process(context.Background(), "p1")
		if !errors.Is(err, apperr.ErrExternalService) {
			t.Fatalf("expected external service error, got %v", err)
		}
		if got := f.store.status("p1"); got != domain.PaymentStatusFailed {
			t.Errorf("expected failed to be stored before returning, got %s", got)
		}
		if f.events.count(domain.EventPaymentFailed) != 1 {
			t.Error("expected payment.failed event")
		}
	})

	t.Run("not pending", func(t *testing.T) {
		for _, status := range []domain.PaymentStatus{
			domain.PaymentStatusProcessing, domain.PaymentStatusCompleted, domain.PaymentStatusCancelled,
		} {
			f := newFixture()
			f.seed("p1", status, "")

			_, err := f.svc.Process(context.Background(), "p1")
			if !errors.Is(err, apperr.ErrStateConflict) {
				t.Errorf("%s: expected state conflict, got %v", status, err)
			}
			if f.gateway.initiateCalls() != 0 {
				t.Errorf("%s: gateway must not be called", status)
			}
		}
	})

	t.Run("cancelled while gateway call in flight", func(t *testing.T) {
		f := newFixture()
		f.seed("p1", domain.PaymentStatusPending, "")
		f.gateway.onInitiate = func() {
			if _, err := f.svc.Cancel(context.Background(), "p1"); err != nil {
				t.Errorf("cancel during processing failed: %v", err)
			}
		}

		p, err := f.svc.Process(context.Background(), "p1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Status != domain.PaymentStatusCancelled {
			t.Errorf("expected stored cancellation to win, got %s", p.Status)
		}
		if p.TransactionID == nil || *p.TransactionID != "tx-1" {
			t.Errorf("expected the charged trade to be recorded, got %v", p.TransactionID)
		}
		if p.GatewayResponse == nil || *p.GatewayResponse != "Success" {
			t.Errorf("expected gateway response to be recorded, got %v", p.GatewayResponse)
		}
		if f.events.total() != 0 {
			t.Errorf("expected no events, got %d", f.events.total())
		}

		_, err = f.svc.ReconcileWebhook(context.Background(), "tx-1", domain.PaymentStatusCompleted, "paid")
		if errors.Is(err, apperr.ErrNotFound) {
			t.Error("expected the late callback to find the cancelled payment")
		}
		if got := f.store.status("p1"); got != domain.PaymentStatusCancelled {
			t.Errorf("expected payment to stay cancelled, got %s", got)
		}
	})

	t.Run("failed gateway call after cancellation writes nothing", func(t *testing.T) {
		f := newFixture()
		f.seed("p1", domain.PaymentStatusPending, "")
		f.gateway.result = Result{Success: false, TransactionID: "tx-9", Message: "declined"}
		f.gateway.onInitiate = func() {
			if _, err := f.svc.Cancel(context.Background(), "p1"); err != nil {
				t.Errorf("cancel during processing failed: %v", err)
			}
		}

		p, err := f.svc.Process(context.Background(), "p1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Status != domain.PaymentStatusCancelled || p.TransactionID != nil {
			t.Errorf("expected untouched cancellation, got %s tx=%v", p.Status, p.TransactionID)
		}
	})

	t.Run("caller cancellation does not abandon bookkeeping", func(t *testing.T) {
		f := newFixture()
		f.seed("p1", domain.PaymentStatusPending, "")

		ctx, cancel := context.WithCancel(context.Background())
		f.gateway.onInitiate = cancel

		p, err := f.svc.Process(ctx, "p1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Status != domain.PaymentStatusCompleted {
			t.Errorf("expected completed, got %s", p.Status)
		}
	})
}

func TestService_Cancel(t *testing.T) {
	tests := []struct {
		status  domain.PaymentStatus
		wantErr bool
	}{
		{status: domain.PaymentStatusPending},
		{status: domain.PaymentStatusProcessing},
		{status: domain.PaymentStatusCompleted, wantErr: true},
		{status: domain.PaymentStatusFailed, wantErr: true},
		{status: domain.PaymentStatusRefunded, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newFixture()
			f.seed("p1", tt.status, "")

			p, err := f.svc.Cancel(context.Background(), "p1")
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrStateConflict) {
					t.Errorf("expected state conflict, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Status != domain.PaymentStatusCancelled || p.ProcessedAt == nil {
				t.Errorf("unexpected payment: %+v", p)
			}
		})
	}
}

func TestService_Refund(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture()
		f.seed("p1", domain.PaymentStatusCompleted, "tx-9")

		p, err := f.svc.Refund(context.Background(), "p1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Status != domain.PaymentStatusRefunded {
			t.Errorf("expected refunded, got %s", p.Status)
		}
		if f.gateway.refunded[0].TransactionID != "tx-9" {
			t.Errorf("expected refund keyed by tx-9, got %+v", f.gateway.refunded[0])
		}
	})

	t.Run("gateway failure keeps payment completed", func(t *testing.T) {
		f := newFixture()
		f.gateway.refundErr = errors.New("timeout")
		f.seed("p1", domain.PaymentStatusCompleted, "tx-9")

		_, err := f.svc.Refund(context.Background(), "p1")
		if !errors.Is(err, apperr.ErrExternalService) {
			t.Errorf("expected external service error, got %v", err)
		}
		if got := f.store.status("p1"); got != domain.PaymentStatusCompleted {
			t.Errorf("expected completed, got %s", got)
		}
	})

	t.Run("declined keeps payment completed", func(t *testing.T) {
		f := newFixture()
		f.gateway.refund = Result{Success: false, Message: "refund window closed"}
		f.seed("p1", domain.PaymentStatusCompleted, "tx-9")

		if _, err := f.svc.Refund(context.Background(), "p1"); !errors.Is(err, apperr.ErrExternalService) {
			t.Errorf("expected external service error, got %v", err)
		}
		if got := f.store.status("p1"); got != domain.PaymentStatusCompleted {
			t.Errorf("expected completed, got %s", got)
		}
	})

	t.Run("not completed", func(t *testing.T) {
		f := newFixture()
		f.seed("p1", domain.PaymentStatusPending, "")

		if _, err := f.svc.Refund(context.Background(), "p1"); !errors.Is(err, apperr.ErrStateConflict) {
			t.Errorf("expected state conflict, got %v", err)
		}
	})
}

func TestService_ReconcileWebhook(t *testing.T) {
	t.Run("unknown transaction", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.ReconcileWebhook(context.Background(), "tx-unknown", domain.PaymentStatusCompleted, "ok")
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("legal transition applied once", func(t *testing.T) {
		f := newFixture()
		f.seed("p1", domain.PaymentStatusProcessing, "tx-1")

		p, err := f.svc.ReconcileWebhook(context.Background(), "tx-1", domain.PaymentStatusCompleted, "paid")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Status != domain.PaymentStatusCompleted || p.ProcessedAt == nil {
			t.Errorf("unexpected payment: %+v", p)
		}
		if f.events.count(domain.EventOrderPaid) != 1 {
			t.Error("expected order.paid event")
		}
	})

	t.Run("replay refreshes message only", func(t *testing.T) {
		f := newFixture()
		f.seed("p1", domain.PaymentStatusCompleted, "tx-1")

		p, err := f.svc.ReconcileWebhook(context.Background(), "tx-1", domain.PaymentStatusCompleted, "paid again")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.GatewayResponse == nil || *p.GatewayResponse != "paid again" {
			t.Errorf("expected refreshed message, got %v", p.GatewayResponse)
		}
		if p.ProcessedAt == nil {
			t.Error("expected processed_at stamped when unset")
		}
		if f.events.total() != 0 {
			t.Errorf("expected no events for replay, got %d", f.events.total())
		}
	})

	t.Run("regression rejected", func(t *testing.T) {
		f := newFixture()
		f.seed("p1", domain.PaymentStatusCompleted, "tx-1")

		_, err := f.svc.ReconcileWebhook(context.Background(), "tx-1", domain.PaymentStatusPending, "rewind")
		if !errors.Is(err, apperr.ErrStateConflict) {
			t.Errorf("expected state conflict, got %v", err)
		}
		p, _ := f.store.Get(context.Background(), "p1")
		if p.Status != domain.PaymentStatusCompleted || p.GatewayResponse != nil {
			t.Errorf("expected no mutation, got %+v", p)
		}
	})

	t.Run("concurrent duplicates emit one event", func(t *testing.T) {
		f := newFixture()
		f.seed("p1", domain.PaymentStatusProcessing, "tx-1")

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := f.svc.ReconcileWebhook(context.Background(), "tx-1", domain.PaymentStatusCompleted, "paid"); err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if got := f.events.count(domain.EventOrderPaid); got != 1 {
			t.Errorf("expected exactly one order.paid event, got %d", got)
		}
		if got := f.store.status("p1"); got != domain.PaymentStatusCompleted {
			t.Errorf("expected completed, got %s", got)
		}
	})
}

func TestService_Sync(t *testing.T) {
	t.Run("recovers processing payment without transaction id", func(t *testing.T) {
		f := newFixture()
		f.gateway.query = QueryResult{Status: domain.PaymentStatusCompleted, TransactionID: "tx-late", Message: "TRADE_SUCCESS"}
		f.seed("p1", domain.PaymentStatusProcessing, "")

		p, err := f.svc.Sync(context.Background(), "p1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Status != domain.PaymentStatusCompleted {
			t.Errorf("expected completed, got %s", p.Status)
		}
		if p.TransactionID == nil || *p.TransactionID != "tx-late" {
			t.Errorf("expected recovered transaction id, got %v", p.TransactionID)
		}
		if q := f.gateway.queriedWith[0]; q.PaymentID != "p1" || q.TransactionID != "" {
			t.Errorf("unexpected query: %+v", q)
		}
		if f.events.count(domain.EventOrderPaid) != 1 {
			t.Error("expected order.paid event")
		}
	})

	t.Run("still processing is a no-op", func(t *testing.T) {
		f := newFixture()
		f.gateway.query = QueryResult{Status: domain.PaymentStatusProcessing}
		f.seed("p1", domain.PaymentStatusProcessing, "tx-1")

		p, err := f.svc.Sync(context.Background(), "p1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Status != domain.PaymentStatusProcessing || f.events.total() != 0 {
			t.Errorf("expected no change, got %s with %d events", p.Status, f.events.total())
		}
	})

	t.Run("pending payment", func(t *testing.T) {
		f := newFixture()
		f.seed("p1", domain.PaymentStatusPending, "")

		if _, err := f.svc.Sync(context.Background(), "p1"); !errors.Is(err, apperr.ErrStateConflict) {
			t.Errorf("expected state conflict, got %v", err)
		}
	})
}

func TestService_ReadsAndStats(t *testing.T) {
	f := newFixture()
	f.seed("a", domain.PaymentStatusCompleted, "tx-a")
	f.seed("b", domain.PaymentStatusFailed, "")
	f.seed("c", domain.PaymentStatusRefunded, "tx-c")
	f.seed("d", domain.PaymentStatusPending, "")

	stats, err := f.svc.Stats(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalCount != 4 || stats.CompletedCount != 1 || stats.FailedCount != 1 || stats.RefundedCount != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.SuccessRate != 25 {
		t.Errorf("expected success rate 25, got %v", stats.SuccessRate)
	}
	if !stats.AverageAmount.Equal(decimal.RequireFromString("349.99")) {
		t.Errorf("expected average 349.99, got %s", stats.AverageAmount)
	}

	active, err := f.svc.ActiveForOrder(context.Background(), "order-d")
	if err != nil || active.ID != "d" {
		t.Errorf("ActiveForOrder() = %v, %v", active, err)
	}
	if _, err := f.svc.ActiveForOrder(context.Background(), "order-b"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for failed-only order, got %v", err)
	}

	payments, err := f.svc.ListByUser(context.Background(), "user-1")
	if err != nil || len(payments) != 4 {
		t.Errorf("ListByUser() returned %d payments, %v", len(payments), err)
	}

	if _, err := f.svc.Get(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
