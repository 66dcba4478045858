package service

import (
	"context"
	"fmt"
	"time"

	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/storage"
)

const DefaultNotificationWindow = 20

type NotificationList struct {
	Items       []model.NotificationView `json:"items"`
	UnreadCount int                      `json:"unread_count"`
}

// NotificationCenter: последние уведомления пользователя и бейдж непрочитанных.
type NotificationCenter struct {
	store  storage.NotificationStore
	window int
	retry  RetryPolicy
	now    func() time.Time
}

func NewNotificationCenter(store storage.NotificationStore, window int, retry RetryPolicy) *NotificationCenter {
	if window <= 0 {
		window = DefaultNotificationWindow
	}
	return &NotificationCenter{store: store, window: window, retry: retry, now: time.Now}
}

func (c *NotificationCenter) List(ctx context.Context, userID string) (*NotificationList, error) {
	defer logger.DeferLogDuration("notifications.List", time.Now())()
	if userID == "" {
		return nil, validationf("user id required")
	}
	items, err := retryRead(ctx, c.retry, "notifications.ListRecent", func(ctx context.Context) ([]model.Notification, error) {
		return c.store.ListRecent(ctx, userID, c.window)
	})
	if err != nil {
		return nil, mapReadErr("notifications", err)
	}
	unread, err := c.UnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &NotificationList{Items: make([]model.NotificationView, 0, len(items)), UnreadCount: unread}
	for _, n := range items {
		out.Items = append(out.Items, Render(n))
	}
	return out, nil
}

func (c *NotificationCenter) UnreadCount(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, validationf("user id required")
	}
	n, err := retryRead(ctx, c.retry, "notifications.CountUnread", func(ctx context.Context) (int, error) {
		return c.store.CountUnread(ctx, userID)
	})
	if err != nil {
		return 0, mapReadErr("unread notifications", err)
	}
	return n, nil
}

// MarkRead идемпотентен; чужое или несуществующее уведомление: ErrNotFound.
func (c *NotificationCenter) MarkRead(ctx context.Context, userID, id string) error {
	if id == "" {
		return validationf("notification id required")
	}
	if err := c.store.MarkRead(ctx, id, userID, c.now().UTC()); err != nil {
		return mapWriteErr("mark notification read", err)
	}
	return nil
}

// MarkAllRead затрагивает только непрочитанные уведомления самого вызывающего.
func (c *NotificationCenter) MarkAllRead(ctx context.Context, callerID, userID string) (int, error) {
	if userID == "" {
		userID = callerID
	}
	if callerID == "" || callerID != userID {
		return 0, fmt.Errorf("%w: mark-all-read for another user", ErrPermissionDenied)
	}
	n, err := c.store.MarkAllRead(ctx, userID, c.now().UTC())
	if err != nil {
		return 0, mapWriteErr("mark all notifications read", err)
	}
	return n, nil
}

func (c *NotificationCenter) Delete(ctx context.Context, userID, id string) error {
	if id == "" {
		return validationf("notification id required")
	}
	if err := c.store.Delete(ctx, id, userID); err != nil {
		return mapWriteErr("delete notification", err)
	}
	return nil
}
