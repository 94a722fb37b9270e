package notifications

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

const notificationColumns = `id, user_id, type, title, content, channel, status, recipient, template_id,
	template_data, scheduled_at, sent_at, retry_count, error_message, created_at, updated_at`

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	data, err := marshalTemplateData(n.TemplateData)
	if err != nil {
		return err
	}

	n.ID = uuid.New().String()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notifications.notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, n.ID, n.UserID, n.Type, n.Title, n.Content, n.Channel, n.Status, n.Recipient, n.TemplateID,
		data, n.ScheduledAt, n.SentAt, n.RetryCount, n.ErrorMessage, n.CreatedAt, n.UpdatedAt)
	return err
}

func (r *NotificationRepository) Get(ctx context.Context, id string) (*domain.Notification, error) {
	return r.one(r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications.notifications WHERE id = $1`, id))
}

func (r *NotificationRepository) List(ctx context.Context, f Filter) ([]domain.Notification, int, error) {
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
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.Type != "" {
		add("type", f.Type)
	}
	if f.Channel != "" {
		add("channel", f.Channel)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications.notifications `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM notifications.notifications
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, notificationColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	notifications := []domain.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		notifications = append(notifications, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return notifications, total, nil
}

func (r *NotificationRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications.notifications WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *NotificationRepository) Claim(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications.notifications
		SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *NotificationRepository) ClaimScheduled(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications.notifications
		SET scheduled_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND scheduled_at IS NOT NULL AND scheduled_at <= $2
	`, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *NotificationRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) (*domain.Notification, error) {
	return r.one(r.db.QueryRowContext(ctx, `
		UPDATE notifications.notifications
		SET status = 'sent', sent_at = $2, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+notificationColumns, id, sentAt))
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, id, errMsg string) (*domain.Notification, error) {
	return r.one(r.db.QueryRowContext(ctx, `
		UPDATE notifications.notifications
		SET status = 'failed', error_message = $2, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+notificationColumns, id, errMsg))
}

func (r *NotificationRepository) Stats(ctx context.Context) (domain.NotificationStats, error) {
	var s domain.NotificationStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'pending')
		FROM notifications.notifications
	`).Scan(&s.TotalCount, &s.SentCount, &s.FailedCount, &s.PendingCount)
	if err != nil {
		return domain.NotificationStats{}, err
	}
	s.SuccessRate = domain.SuccessRate(s.SentCount, s.TotalCount)
	return s, nil
}

func (r *NotificationRepository) one(row *sql.Row) (*domain.Notification, error) {
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var (
		n    domain.Notification
		data []byte
	)
	err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Content, &n.Channel, &n.Status, &n.Recipient,
		&n.TemplateID, &data, &n.ScheduledAt, &n.SentAt, &n.RetryCount, &n.ErrorMessage, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.TemplateData); err != nil {
			return nil, fmt.Errorf("decode template_data: %w", err)
		}
	}
	return &n, nil
}

// marshalTemplateData returns the JSONB text for data. lib/pq sends []byte
// as bytea, so the column is written as a string.
func marshalTemplateData(data map[string]string) (sql.NullString, error) {
	if len(data) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode template_data: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
