package orders

import (
	"context"
	"errors"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

// ErrDuplicateOrderNumber is returned by Store.Create when the generated
// order number is already taken.
var ErrDuplicateOrderNumber = errors.New("duplicate order number")

type Filter struct {
	// UserID scopes the listing. Empty means every user (admin listing).
	UserID string
	Status domain.OrderStatus
	PlanID string
	Limit  int
	Offset int
}

// Store persists orders with their items. Get and Mutate return a nil order
// and no error when the id is unknown.
type Store interface {
	// Create writes the order and all its items atomically, assigning ids.
	Create(ctx context.Context, order *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, f Filter) ([]domain.Order, int, error)
	// Mutate locks the order row, applies fn and writes status, notes and
	// dates back in the same transaction. Nothing is written if fn fails.
	Mutate(ctx context.Context, id string, fn func(*domain.Order) error) (*domain.Order, error)
	Stats(ctx context.Context, userID string) (domain.OrderStats, error)
}
