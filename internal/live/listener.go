// Package live держит состояние одной сессии пользователя (открытая переписка,
// список переписок, уведомления) в согласии с хранилищем через feed.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/promatch/internal/feed"
	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/pending"
	"github.com/promatch/internal/service"
)

type Kind string

const (
	KindMessageNew     Kind = "message_new"
	KindMessageUpdated Kind = "message_updated"
	KindConversations  Kind = "conversations"
	KindNotifications  Kind = "notifications"
	KindError          Kind = "error"
)

// Update: изменение, которое нужно отправить клиенту.
type Update struct {
	Kind           Kind
	ConversationID string
	Message        *model.Message
	Conversations  []model.ConversationSummary
	Notifications  *service.NotificationList
	Err            error
}

type Directory interface {
	List(ctx context.Context, userID string, role model.Role) ([]model.ConversationSummary, error)
}

type Thread interface {
	Load(ctx context.Context, userID, convID string) ([]model.Message, error)
	MarkRead(ctx context.Context, userID string, ids []string) (int, error)
	WithSender(ctx context.Context, m model.Message) model.Message
}

type Notifications interface {
	List(ctx context.Context, userID string) (*service.NotificationList, error)
}

// Acks принимает подтверждения прочтения, которые не удалось отправить сразу.
type Acks interface {
	Enqueue(op pending.Op)
}

var ErrNotBound = errors.New("listener not bound to a user")

// Listener: три подписки на пользователя (я получатель, я отправитель, мои уведомления).
// Обработчики событий работают параллельно с действиями пользователя; конфликты в
// локальном списке решаются по id сообщения, последняя запись побеждает.
type Listener struct {
	feed   feed.Feed
	dir    Directory
	thread Thread
	notes  Notifications
	acks   Acks
	emit   func(Update)

	mu       sync.Mutex
	gen      uint64
	userID   string
	role     model.Role
	subs     []feed.Subscription
	cancel   context.CancelFunc
	openConv string
	openSeq  uint64
	messages []model.Message
	index    map[string]int
	closed   bool
}

// New. acks может быть nil: тогда неудачные подтверждения только логируются.
func New(f feed.Feed, dir Directory, thread Thread, notes Notifications, acks Acks, emit func(Update)) *Listener {
	return &Listener{feed: f, dir: dir, thread: thread, notes: notes, acks: acks, emit: emit}
}

// Bind привязывает слушателя к пользователю. При смене пользователя старые подписки
// снимаются до создания новых; повторный Bind того же пользователя ничего не делает.
func (l *Listener) Bind(ctx context.Context, userID string, role model.Role) error {
	if userID == "" || !role.Valid() {
		return fmt.Errorf("live.Bind: user id and role required")
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrNotBound
	}
	if l.userID == userID && l.role == role && l.subs != nil {
		l.mu.Unlock()
		return nil
	}
	old, oldCancel := l.resetLocked()
	l.gen++
	gen := l.gen
	l.userID, l.role = userID, role
	subCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()
	teardown(old, oldCancel)

	filters := []feed.Filter{
		{Table: feed.TableMessages, Column: feed.ColumnReceiver, Value: userID},
		{Table: feed.TableMessages, Column: feed.ColumnSender, Value: userID},
		{Table: feed.TableNotifications, Op: feed.OpInsert, Column: feed.ColumnUser, Value: userID},
	}
	subs := make([]feed.Subscription, 0, len(filters))
	for _, f := range filters {
		sub, err := l.feed.Subscribe(subCtx, f, func(ctx context.Context, e feed.Event) { l.handle(ctx, gen, e) })
		if err != nil {
			teardown(subs, cancel)
			l.mu.Lock()
			if l.gen == gen {
				l.userID, l.role, l.cancel = "", "", nil
			}
			l.mu.Unlock()
			return fmt.Errorf("live.Bind subscribe %s/%s: %w", f.Table, f.Column, err)
		}
		subs = append(subs, sub)
	}

	l.mu.Lock()
	if l.gen != gen || l.closed {
		// Пока подписывались, сессию перепривязали или закрыли.
		l.mu.Unlock()
		teardown(subs, cancel)
		return nil
	}
	l.subs = subs
	l.mu.Unlock()
	logger.Debugf("live: bound user=%s role=%s", userID, role)
	return nil
}

// resetLocked сбрасывает состояние сессии и возвращает то, что нужно снять вне блокировки.
func (l *Listener) resetLocked() ([]feed.Subscription, context.CancelFunc) {
	subs, cancel := l.subs, l.cancel
	l.subs, l.cancel = nil, nil
	l.userID, l.role = "", ""
	l.openSeq++
	l.openConv, l.messages, l.index = "", nil, nil
	return subs, cancel
}

func teardown(subs []feed.Subscription, cancel context.CancelFunc) {
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			logger.Warnf("live: unsubscribe: %v", err)
		}
	}
	if cancel != nil {
		cancel()
	}
}

// Close снимает подписки. После Close события не доставляются.
func (l *Listener) Close() {
	l.mu.Lock()
	l.closed = true
	l.gen++
	subs, cancel := l.resetLocked()
	l.mu.Unlock()
	teardown(subs, cancel)
}

func (l *Listener) identity() (string, model.Role) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userID, l.role
}

// UserID: текущий привязанный пользователь или "".
func (l *Listener) UserID() string {
	id, _ := l.identity()
	return id
}

// OpenThread загружает переписку (с пометкой прочитанного) и делает её открытой.
// Переписка считается открытой ещё до Load: сообщения, пришедшие во время загрузки,
// добавляются и подтверждаются обработчиком feed, потом сливаются с историей по id.
func (l *Listener) OpenThread(ctx context.Context, convID string) ([]model.Message, error) {
	l.mu.Lock()
	userID := l.userID
	if userID == "" {
		l.mu.Unlock()
		return nil, ErrNotBound
	}
	l.openSeq++
	seq := l.openSeq
	l.openConv = convID
	l.messages = nil
	l.index = make(map[string]int)
	l.mu.Unlock()

	msgs, err := l.thread.Load(ctx, userID, convID)

	l.mu.Lock()
	current := l.userID == userID && l.openSeq == seq
	if err != nil {
		if current {
			l.openConv, l.messages, l.index = "", nil, nil
		}
		l.mu.Unlock()
		return nil, err
	}
	if !current {
		// Пока грузили, открыли другую переписку, закрыли эту или сменили пользователя.
		l.mu.Unlock()
		if l.UserID() != userID {
			return nil, ErrNotBound
		}
		return msgs, nil
	}
	arrived := l.messages
	l.messages = make([]model.Message, 0, len(msgs)+len(arrived))
	l.index = make(map[string]int, len(msgs)+len(arrived))
	for _, m := range msgs {
		l.appendLocked(m)
	}
	for _, m := range arrived {
		l.appendLocked(m)
	}
	merged := append([]model.Message(nil), l.messages...)
	l.mu.Unlock()
	// Счётчик непрочитанных изменился после Load.
	l.refreshDirectory(ctx, userID)
	return merged, nil
}

func (l *Listener) CloseThread() {
	l.mu.Lock()
	l.openSeq++
	l.openConv, l.messages, l.index = "", nil, nil
	l.mu.Unlock()
}

func (l *Listener) OpenConversation() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openConv
}

// Messages: снимок открытой переписки.
func (l *Listener) Messages() []model.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Message(nil), l.messages...)
}

// AppendLocal добавляет своё только что отправленное сообщение. То же сообщение
// позже придёт из feed; дубль по id отбрасывается. Возвращает true, если добавлено.
func (l *Listener) AppendLocal(m model.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(m)
}

func (l *Listener) appendLocked(m model.Message) bool {
	if l.openConv == "" || m.ConversationID != l.openConv {
		return false
	}
	if _, dup := l.index[m.ID]; dup {
		return false
	}
	l.index[m.ID] = len(l.messages)
	l.messages = append(l.messages, m.Redacted())
	return true
}

// patchLocked заменяет сообщение по id. Возвращает false, если его нет в открытой переписке.
func (l *Listener) patchLocked(m model.Message) bool {
	i, ok := l.index[m.ID]
	if !ok {
		return false
	}
	if m.Sender == nil {
		m.Sender = l.messages[i].Sender
	}
	l.messages[i] = m.Redacted()
	return true
}

func (l *Listener) handle(ctx context.Context, gen uint64, e feed.Event) {
	l.mu.Lock()
	if l.gen != gen || l.closed {
		l.mu.Unlock()
		return
	}
	userID, openConv := l.userID, l.openConv
	l.mu.Unlock()

	switch e.Table {
	case feed.TableMessages:
		if e.Message != nil {
			l.handleMessage(ctx, gen, userID, openConv, e.Op, *e.Message)
		}
	case feed.TableNotifications:
		if e.Op == feed.OpInsert {
			l.refreshNotifications(ctx, userID)
		}
	}
}

func (l *Listener) handleMessage(ctx context.Context, gen uint64, userID, openConv string, op feed.Op, m model.Message) {
	inOpen := openConv != "" && m.ConversationID == openConv
	switch {
	case op == feed.OpUpdate:
		if inOpen && l.apply(gen, func() bool { return l.patchLocked(m) }) {
			l.send(Update{Kind: KindMessageUpdated, ConversationID: m.ConversationID, Message: redactedPtr(m)})
		}
		l.refreshDirectory(ctx, userID)

	case m.ReceiverID == userID && inOpen:
		m = l.thread.WithSender(ctx, m)
		if !l.apply(gen, func() bool { return l.appendLocked(m) }) {
			return
		}
		l.send(Update{Kind: KindMessageNew, ConversationID: m.ConversationID, Message: redactedPtr(m)})
		l.ackRead(ctx, gen, userID, m)

	case m.SenderID == userID && inOpen:
		m = l.thread.WithSender(ctx, m)
		if l.apply(gen, func() bool { return l.appendLocked(m) }) {
			l.send(Update{Kind: KindMessageNew, ConversationID: m.ConversationID, Message: redactedPtr(m)})
		}
		l.refreshDirectory(ctx, userID)

	default:
		l.refreshDirectory(ctx, userID)
	}
}

// apply выполняет fn под блокировкой, если событие всё ещё относится к текущей привязке.
func (l *Listener) apply(gen uint64, fn func() bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen || l.closed {
		return false
	}
	return fn()
}

// ackRead подтверждает прочтение одного сообщения. Сбой не влияет на показ: пишем в лог
// и откладываем подтверждение в очередь.
func (l *Listener) ackRead(ctx context.Context, gen uint64, userID string, m model.Message) {
	if _, err := l.thread.MarkRead(ctx, userID, []string{m.ID}); err != nil {
		logger.Warnf("live: mark read %s for %s: %v", m.ID, userID, err)
		if l.acks != nil {
			l.acks.Enqueue(pending.MarkReadOp(userID, m.ID))
		}
		return
	}
	l.apply(gen, func() bool {
		if i, ok := l.index[m.ID]; ok {
			l.messages[i].IsRead = true
		}
		return true
	})
}

func (l *Listener) refreshDirectory(ctx context.Context, userID string) {
	l.mu.Lock()
	role := l.role
	stale := l.userID != userID
	l.mu.Unlock()
	if stale || userID == "" {
		return
	}
	list, err := l.dir.List(ctx, userID, role)
	if err != nil {
		logger.Warnf("live: refresh conversations for %s: %v", userID, err)
		l.send(Update{Kind: KindError, Err: err})
		return
	}
	l.send(Update{Kind: KindConversations, Conversations: list})
}

func (l *Listener) refreshNotifications(ctx context.Context, userID string) {
	list, err := l.notes.List(ctx, userID)
	if err != nil {
		logger.Warnf("live: refresh notifications for %s: %v", userID, err)
		l.send(Update{Kind: KindError, Err: err})
		return
	}
	l.send(Update{Kind: KindNotifications, Notifications: list})
}

// RefreshConversations отправляет актуальный список переписок (после mark_read и т.п.).
func (l *Listener) RefreshConversations(ctx context.Context) {
	userID, _ := l.identity()
	if userID != "" {
		l.refreshDirectory(ctx, userID)
	}
}

// RefreshAll отправляет актуальные списки переписок и уведомлений (при подключении).
func (l *Listener) RefreshAll(ctx context.Context) {
	userID, _ := l.identity()
	if userID == "" {
		return
	}
	l.refreshDirectory(ctx, userID)
	l.refreshNotifications(ctx, userID)
}

func (l *Listener) send(u Update) {
	if l.emit != nil {
		l.emit(u)
	}
}

func redactedPtr(m model.Message) *model.Message {
	r := m.Redacted()
	return &r
}
