package payments

import (
	"context"
	"errors"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

var (
	// ErrActivePaymentExists is returned by Store.Create when the order
	// already has a payment that is neither cancelled nor failed.
	ErrActivePaymentExists = errors.New("order already has an active payment")

	// ErrNoChange may be returned by a Mutate callback to release the row
	// without writing. Mutate then returns the payment as read.
	ErrNoChange = errors.New("no change")
)

type Filter struct {
	UserID  string
	OrderID string
	Status  domain.PaymentStatus
	Limit   int
	Offset  int
}

// Store persists payments. Lookups return a nil payment and no error for
// unknown ids.
type Store interface {
	Create(ctx context.Context, p *domain.Payment) error
	Get(ctx context.Context, id string) (*domain.Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	List(ctx context.Context, f Filter) ([]domain.Payment, int, error)
	// Mutate locks the payment row for the duration of fn and writes back
	// the mutable fields unless fn fails or returns ErrNoChange.
	Mutate(ctx context.Context, id string, fn func(*domain.Payment) error) (*domain.Payment, error)
	// Stats aggregates over one user's payments, or all payments when
	// userID is empty.
	Stats(ctx context.Context, userID string) (domain.PaymentStats, error)
}
