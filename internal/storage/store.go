// Package storage описывает хранилище переписок и уведомлений.
// Реализации: repository (PostgreSQL), memory.Store (тесты).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/promatch/internal/model"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotOwner       = errors.New("not the owner")
	ErrMessageDeleted = errors.New("message deleted")
	// ErrUnavailable: временная недоступность хранилища; чтения повторяются.
	ErrUnavailable = errors.New("store unavailable")
)

type ConversationStore interface {
	// ListActive возвращает активные переписки пользователя по внешнему ключу его роли,
	// свежие сверху, без активности: в конце.
	ListActive(ctx context.Context, userID string, role model.Role) ([]model.Conversation, error)
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	// GetOrCreate вставляет переписку или возвращает уже существующую для той же тройки
	// (client, professional, project). created=false означает повторное использование.
	GetOrCreate(ctx context.Context, c *model.Conversation) (conv *model.Conversation, created bool, err error)
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
}

type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	// ListByConversation: сообщения по возрастанию created_at.
	ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	// ListRecentByConversations: все сообщения указанных переписок, новые сверху.
	ListRecentByConversations(ctx context.Context, conversationIDs []string) ([]model.Message, error)
	// ListUnreadForReceiver: непрочитанные сообщения, адресованные receiverID.
	ListUnreadForReceiver(ctx context.Context, receiverID string, conversationIDs []string) ([]model.Message, error)
	// MarkRead помечает прочитанными только сообщения, адресованные receiverID. Идемпотентно.
	MarkRead(ctx context.Context, receiverID string, ids []string) (int, error)
	MarkConversationRead(ctx context.Context, conversationID, receiverID string) (int, error)
	// UpdateContent и SoftDelete применяются только к неудалённым сообщениям senderID,
	// иначе ErrNotOwner / ErrMessageDeleted / ErrNotFound.
	UpdateContent(ctx context.Context, id, senderID, content string, at time.Time) error
	SoftDelete(ctx context.Context, id, senderID string, at time.Time, erase bool) error
}

type NotificationStore interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)
	Delete(ctx context.Context, id, userID string) error
}

type ProfileStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.Profile, error)
}

type ProjectStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.ProjectSummary, error)
}
