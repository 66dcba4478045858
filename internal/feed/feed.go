// Package feed: подписка на изменения строк messages/notifications.
// Реализации: memory (один процесс, тесты), redis (pub/sub между инстансами API),
// pgnotify (мост из NOTIFY feed_events в Feed для строк, вставленных триггерами).
package feed

import (
	"context"

	"github.com/promatch/internal/model"
)

type Table string

const (
	TableMessages      Table = "messages"
	TableNotifications Table = "notifications"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
)

type Column string

const (
	ColumnReceiver Column = "receiver_id"
	ColumnSender   Column = "sender_id"
	ColumnUser     Column = "user_id"
)

// Event: одна изменённая строка. Заполнено ровно одно из Message / Notification.
type Event struct {
	Table        Table               `json:"table"`
	Op           Op                  `json:"op"`
	Message      *model.Message      `json:"message,omitempty"`
	Notification *model.Notification `json:"notification,omitempty"`
}

func MessageEvent(op Op, m model.Message) Event {
	return Event{Table: TableMessages, Op: op, Message: &m}
}

func NotificationEvent(op Op, n model.Notification) Event {
	return Event{Table: TableNotifications, Op: op, Notification: &n}
}

// Value возвращает значение колонки строки события или "" для чужой колонки.
func (e Event) Value(c Column) string {
	switch {
	case e.Table == TableMessages && e.Message != nil:
		switch c {
		case ColumnReceiver:
			return e.Message.ReceiverID
		case ColumnSender:
			return e.Message.SenderID
		}
	case e.Table == TableNotifications && e.Notification != nil:
		if c == ColumnUser {
			return e.Notification.UserID
		}
	}
	return ""
}

// Columns: колонки, по которым на событие можно подписаться.
func (e Event) Columns() []Column {
	switch e.Table {
	case TableMessages:
		return []Column{ColumnReceiver, ColumnSender}
	case TableNotifications:
		return []Column{ColumnUser}
	}
	return nil
}

// Filter: table + op + column = value. Пустой Op значит любые операции.
type Filter struct {
	Table  Table
	Op     Op
	Column Column
	Value  string
}

func (f Filter) Match(e Event) bool {
	if f.Table != e.Table {
		return false
	}
	if f.Op != "" && f.Op != e.Op {
		return false
	}
	return f.Value != "" && e.Value(f.Column) == f.Value
}

// Handler вызывается в горутине подписки; события одной подписки приходят по порядку.
type Handler func(ctx context.Context, e Event)

type Subscription interface {
	Unsubscribe() error
}

// Feed доставляет события подписчикам. ctx в Subscribe ограничивает жизнь подписки:
// его отмена равносильна Unsubscribe.
type Feed interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
}
