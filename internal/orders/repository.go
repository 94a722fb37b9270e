package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

const orderColumns = `id, user_id, plan_id, order_number, status, premium_amount, coverage_amount,
	duration_months, start_date, end_date, notes, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders.orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, order.ID, order.UserID, order.PlanID, order.OrderNumber, order.Status, order.PremiumAmount,
		order.CoverageAmount, order.DurationMonths, order.StartDate, order.EndDate, order.Notes,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "orders_order_number_key") {
			return ErrDuplicateOrderNumber
		}
		return err
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.ID = uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders.order_items (id, order_id, feature_name, feature_description, cost, is_included)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, order.ID, item.FeatureName, item.FeatureDescription, item.Cost, item.IsIncluded)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, r.db, id, "")
}

func getOrder(ctx context.Context, q queryer, id, suffix string) (*domain.Order, error) {
	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders.orders WHERE id = $1 `+suffix, id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, feature_name, feature_description, cost, is_included
		FROM orders.order_items
		WHERE order_id = $1
		ORDER BY is_included DESC, feature_name
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.FeatureName, &item.FeatureDescription, &item.Cost, &item.IsIncluded); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, f Filter) ([]domain.Order, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.PlanID != "" {
		args = append(args, f.PlanID)
		conds = append(conds, fmt.Sprintf("plan_id = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders.orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM orders.orders
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, orderColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, total, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, id, feature_name, feature_description, cost, is_included
		FROM orders.order_items
		WHERE order_id = ANY($1)
		ORDER BY is_included DESC, feature_name
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ID, &item.FeatureName, &item.FeatureDescription, &item.Cost, &item.IsIncluded); err != nil {
			return nil, 0, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, 0, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, total, nil
}

func (r *OrderRepository) Mutate(ctx context.Context, id string, fn func(*domain.Order) error) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := getOrder(ctx, tx, id, "FOR UPDATE")
	if err != nil || order == nil {
		return nil, err
	}

	if err := fn(order); err != nil {
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE orders.orders
		SET status = $1, notes = $2, start_date = $3, end_date = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at
	`, order.Status, order.Notes, order.StartDate, order.EndDate, id).Scan(&order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) Stats(ctx context.Context, userID string) (domain.OrderStats, error) {
	var stats domain.OrderStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COALESCE(SUM(premium_amount), 0),
			COALESCE(AVG(premium_amount), 0)
		FROM orders.orders
		WHERE user_id = $1
	`, userID).Scan(&stats.TotalOrders, &stats.ActiveOrders, &stats.PendingOrders, &stats.TotalRevenue, &stats.AverageOrderValue)
	if err != nil {
		return domain.OrderStats{}, err
	}
	stats.AverageOrderValue = stats.AverageOrderValue.Round(2)
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.UserID, &o.PlanID, &o.OrderNumber, &o.Status, &o.PremiumAmount, &o.CoverageAmount,
		&o.DurationMonths, &o.StartDate, &o.EndDate, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == constraint
}

var _ Store = (*OrderRepository)(nil)
