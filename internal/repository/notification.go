package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/storage"
)

const notificationCols = `id, user_id, type, title, message, related_id, related_type, is_read, created_at, updated_at`

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) ListRecent(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notif.ListRecent", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+notificationCols+` FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("notifRepo.ListRecent query: %w", err)
	}
	defer rows.Close()

	items := make([]model.Notification, 0, limit)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.RelatedID, &n.RelatedType,
			&n.IsRead, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("notifRepo.ListRecent scan: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifRepo.ListRecent rows: %w", err)
	}
	return items, nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	defer logger.DeferLogDuration("notif.CountUnread", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = false`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("notifRepo.CountUnread: %w", err)
	}
	return count, nil
}

// MarkRead идемпотентен: повторная пометка не меняет updated_at.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	defer logger.DeferLogDuration("notif.MarkRead", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`WITH upd AS (
			UPDATE notifications SET is_read = true, updated_at = $1
			WHERE id = $2 AND user_id = $3 AND is_read = false
			RETURNING id
		 )
		 SELECT EXISTS(SELECT 1 FROM upd) OR EXISTS(SELECT 1 FROM notifications WHERE id = $2 AND user_id = $3)`,
		at, id, userID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("notifRepo.MarkRead: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	defer logger.DeferLogDuration("notif.MarkAllRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = true, updated_at = $1
		 WHERE user_id = $2 AND is_read = false`,
		at, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("notifRepo.MarkAllRead: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *NotificationRepository) Delete(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("notif.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("notifRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.NotificationStore = (*NotificationRepository)(nil)
