package payments

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

const paymentColumns = `id, order_id, user_id, amount, currency, status, method, transaction_id,
	gateway_response, processed_at, created_at, updated_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Serializes creators for the same order. The partial unique index
	// still backs this up.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, p.OrderID); err != nil {
		return err
	}

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payments.payments
			WHERE order_id = $1 AND status NOT IN ('cancelled', 'failed')
		)
	`, p.OrderID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrActivePaymentExists
	}

	p.ID = uuid.New().String()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments.payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.OrderID, p.UserID, p.Amount, p.Currency, p.Status, p.Method, p.TransactionID,
		p.GatewayResponse, p.ProcessedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "payments_one_active_per_order" {
			return ErrActivePaymentExists
		}
		return err
	}

	return tx.Commit()
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getBy(ctx, "id", id)
}

func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return r.getBy(ctx, "transaction_id", transactionID)
}

func (r *PaymentRepository) getBy(ctx context.Context, column, value string) (*domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments.payments WHERE `+column+` = $1`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *PaymentRepository) List(ctx context.Context, f Filter) ([]domain.Payment, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f.UserID != "" {
		add("user_id", f.UserID)
	}
	if f.OrderID != "" {
		add("order_id", f.OrderID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments.payments `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM payments.payments
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, paymentColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	payments := []domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return payments, total, nil
}

func (r *PaymentRepository) Mutate(ctx context.Context, id string, fn func(*domain.Payment) error) (*domain.Payment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanPayment(tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments.payments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := fn(p); err != nil {
		if errors.Is(err, ErrNoChange) {
			return p, nil
		}
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE payments.payments
		SET status = $1, transaction_id = $2, gateway_response = $3, processed_at = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at
	`, p.Status, p.TransactionID, p.GatewayResponse, p.ProcessedAt, id).Scan(&p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PaymentRepository) Stats(ctx context.Context, userID string) (domain.PaymentStats, error) {
	var s domain.PaymentStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(amount), 0),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COALESCE(SUM(amount) FILTER (WHERE status = 'completed'), 0),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'refunded'),
			COALESCE(SUM(amount) FILTER (WHERE status = 'refunded'), 0)
		FROM payments.payments
		WHERE $1::text = '' OR user_id = $1::text
	`, userID).Scan(&s.TotalCount, &s.TotalAmount, &s.CompletedCount, &s.CompletedAmount,
		&s.FailedCount, &s.RefundedCount, &s.RefundedAmount)
	if err != nil {
		return domain.PaymentStats{}, err
	}
	finishStats(&s)
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.Currency, &p.Status, &p.Method, &p.TransactionID,
		&p.GatewayResponse, &p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
