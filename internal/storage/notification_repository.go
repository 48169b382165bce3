package storage

import (
	"context"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
)

// NotificationRepository handles web notifications
type NotificationRepository struct {
	db *PostgresDB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *PostgresDB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Save inserts a notification. Saving an id that already exists changes
// nothing, so a redelivered event cannot reset a read notification.
func (r *NotificationRepository) Save(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, title, link, message, checked, account_id, notification_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.q(ctx).Exec(ctx, query,
		n.ID, n.Title, n.Link, n.Message, n.Checked, n.AccountID, n.Type, n.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("save notification", err)
	}
	return nil
}

// CountUnread counts the account's unchecked notifications
func (r *NotificationRepository) CountUnread(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.db.q(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE account_id = $1 AND checked = FALSE`, accountID).Scan(&n)
	if err != nil {
		return 0, apperrors.NewDatabaseError("count notifications", err)
	}
	return n, nil
}

// ListByAccount returns the account's notifications with the given checked
// state, newest first
func (r *NotificationRepository) ListByAccount(ctx context.Context, accountID string, checked bool) ([]*models.Notification, error) {
	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT id, title, link, message, checked, account_id, notification_type, created_at
		FROM notifications
		WHERE account_id = $1 AND checked = $2
		ORDER BY created_at DESC
	`, accountID, checked)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list notifications", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Notification, error) {
		var n models.Notification
		err := row.Scan(&n.ID, &n.Title, &n.Link, &n.Message, &n.Checked, &n.AccountID, &n.Type, &n.CreatedAt)
		return &n, err
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("list notifications", err)
	}
	return list, nil
}

// MarkRead checks the given notifications of accountID and returns how many changed
func (r *NotificationRepository) MarkRead(ctx context.Context, accountID string, ids []string) (int, error) {
	result, err := r.db.q(ctx).Exec(ctx, `
		UPDATE notifications SET checked = TRUE
		WHERE account_id = $1 AND id = ANY($2::uuid[]) AND checked = FALSE
	`, accountID, ids)
	if err != nil {
		return 0, apperrors.NewDatabaseError("mark notifications read", err)
	}
	return int(result.RowsAffected()), nil
}
