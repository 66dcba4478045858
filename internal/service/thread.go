package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/promatch/internal/feed"
	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/storage"
)

const (
	MaxMessageRunes  = 4000
	pushPreviewRunes = 100
	pushTimeout      = 5 * time.Second
)

// Pusher: push-уведомление получателю. Ошибки доставки логирует сама реализация.
type Pusher interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// Thread - сообщения одной переписки: загрузка с пометкой прочитанного, отправка,
// правка и мягкое удаление. Права проверяются и здесь, и в хранилище (WHERE sender_id).
type Thread struct {
	convs        storage.ConversationStore
	msgs         storage.MessageStore
	profiles     storage.ProfileStore
	feed         feed.Feed
	push         Pusher
	retry        RetryPolicy
	eraseDeleted bool
	now          func() time.Time
}

// NewThread. push может быть nil. eraseDeleted=true стирает текст при удалении,
// иначе текст остаётся в строке для аудита и только скрывается при чтении.
func NewThread(convs storage.ConversationStore, msgs storage.MessageStore, profiles storage.ProfileStore, f feed.Feed, push Pusher, retry RetryPolicy, eraseDeleted bool) *Thread {
	return &Thread{
		convs:        convs,
		msgs:         msgs,
		profiles:     profiles,
		feed:         f,
		push:         push,
		retry:        retry,
		eraseDeleted: eraseDeleted,
		now:          time.Now,
	}
}

func normalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", validationf("message text is empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return "", validationf("message text longer than %d characters", MaxMessageRunes)
	}
	return text, nil
}

// participantConversation читает переписку и проверяет, что userID: её участник.
func (t *Thread) participantConversation(ctx context.Context, userID, convID string) (*model.Conversation, error) {
	if convID == "" {
		return nil, validationf("conversation id required")
	}
	conv, err := retryRead(ctx, t.retry, "conversations.GetByID", func(ctx context.Context) (*model.Conversation, error) {
		return t.convs.GetByID(ctx, convID)
	})
	if err != nil {
		return nil, mapReadErr("conversation", err)
	}
	if !conv.IsParticipant(userID) {
		return nil, ErrPermissionDenied
	}
	return conv, nil
}

func (t *Thread) senderProfiles(ctx context.Context, ids []string) (map[string]model.ProfilePublic, error) {
	profiles, err := retryRead(ctx, t.retry, "profiles.GetByIDs", func(ctx context.Context) ([]model.Profile, error) {
		return t.profiles.GetByIDs(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.ProfilePublic, len(profiles))
	for i := range profiles {
		out[profiles[i].ID] = profiles[i].ToPublic()
	}
	return out, nil
}

// Load возвращает сообщения переписки по возрастанию времени и помечает прочитанными
// адресованные userID. Сбой пометки не мешает показу: он логируется, счётчик
// догонит при следующем открытии.
func (t *Thread) Load(ctx context.Context, userID, convID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("thread.Load", time.Now())()
	conv, err := t.participantConversation(ctx, userID, convID)
	if err != nil {
		return nil, err
	}
	messages, err := retryRead(ctx, t.retry, "messages.ListByConversation", func(ctx context.Context) ([]model.Message, error) {
		return t.msgs.ListByConversation(ctx, conv.ID)
	})
	if err != nil {
		return nil, mapReadErr("messages", err)
	}
	senders, err := t.senderProfiles(ctx, []string{conv.ClientID, conv.ProfessionalID})
	if err != nil {
		return nil, mapReadErr("profiles", err)
	}

	marked := true
	if _, err := t.msgs.MarkConversationRead(ctx, conv.ID, userID); err != nil {
		marked = false
		logger.Warnf("thread.Load: mark read conv=%s user=%s: %v", conv.ID, userID, err)
	}

	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		m = m.Redacted()
		if marked && m.ReceiverID == userID {
			m.IsRead = true
		}
		if p, ok := senders[m.SenderID]; ok {
			m.Sender = &p
		}
		out = append(out, m)
	}
	return out, nil
}

// Send сохраняет сообщение; получатель: второй участник переписки, из запроса он не берётся.
// Ошибка записи возвращается как ErrSendFailed без повтора.
func (t *Thread) Send(ctx context.Context, userID, convID, text string) (*model.Message, error) {
	defer logger.DeferLogDuration("thread.Send", time.Now())()
	text, err := normalizeText(text)
	if err != nil {
		return nil, err
	}
	if convID == "" {
		return nil, validationf("conversation id required")
	}
	conv, err := t.convs.GetByID(ctx, convID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if !conv.IsParticipant(userID) {
		return nil, ErrPermissionDenied
	}
	if conv.Status == model.ConversationClosed {
		return nil, ErrConversationClosed
	}

	now := t.now().UTC()
	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       userID,
		ReceiverID:     conv.Counterpart(userID),
		Content:        text,
		CreatedAt:      now,
	}
	if err := t.msgs.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	// Сообщение уже сохранено: дальнейшие сбои не должны провоцировать повторную отправку.
	if err := t.convs.TouchLastMessage(ctx, conv.ID, now); err != nil {
		logger.Warnf("thread.Send: touch conv=%s: %v", conv.ID, err)
	}
	if senders, err := t.senderProfiles(ctx, []string{userID}); err == nil {
		if p, ok := senders[userID]; ok {
			m.Sender = &p
		}
	} else {
		logger.Warnf("thread.Send: sender profile %s: %v", userID, err)
	}
	t.publish(ctx, feed.OpInsert, *m)
	t.notifyReceiver(*m)
	return m, nil
}

// Edit меняет текст своего неудалённого сообщения.
func (t *Thread) Edit(ctx context.Context, userID, messageID, text string) error {
	defer logger.DeferLogDuration("thread.Edit", time.Now())()
	text, err := normalizeText(text)
	if err != nil {
		return err
	}
	if messageID == "" {
		return validationf("message id required")
	}
	if err := t.msgs.UpdateContent(ctx, messageID, userID, text, t.now().UTC()); err != nil {
		return mapWriteErr("edit message", err)
	}
	t.publishUpdate(ctx, messageID)
	return nil
}

// Delete мягко удаляет своё сообщение. Повторное удаление: ErrMessageDeleted.
func (t *Thread) Delete(ctx context.Context, userID, messageID string) error {
	defer logger.DeferLogDuration("thread.Delete", time.Now())()
	if messageID == "" {
		return validationf("message id required")
	}
	if err := t.msgs.SoftDelete(ctx, messageID, userID, t.now().UTC(), t.eraseDeleted); err != nil {
		return mapWriteErr("delete message", err)
	}
	t.publishUpdate(ctx, messageID)
	return nil
}

// MarkRead помечает прочитанными сообщения, адресованные userID. Идемпотентно:
// чужие и уже прочитанные id пропускаются.
func (t *Thread) MarkRead(ctx context.Context, userID string, ids []string) (int, error) {
	defer logger.DeferLogDuration("thread.MarkRead", time.Now())()
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := t.msgs.MarkRead(ctx, userID, ids)
	if err != nil {
		return 0, mapWriteErr("mark read", err)
	}
	return n, nil
}

// WithSender дополняет сообщение профилем отправителя; при сбое возвращает как есть.
func (t *Thread) WithSender(ctx context.Context, m model.Message) model.Message {
	m = m.Redacted()
	if m.Sender != nil {
		return m
	}
	senders, err := t.senderProfiles(ctx, []string{m.SenderID})
	if err != nil {
		logger.Warnf("thread.WithSender %s: %v", m.SenderID, err)
		return m
	}
	if p, ok := senders[m.SenderID]; ok {
		m.Sender = &p
	}
	return m
}

func (t *Thread) publishUpdate(ctx context.Context, messageID string) {
	m, err := t.msgs.GetByID(ctx, messageID)
	if err != nil {
		logger.Warnf("thread: reload %s for feed: %v", messageID, err)
		return
	}
	t.publish(ctx, feed.OpUpdate, m.Redacted())
}

func (t *Thread) publish(ctx context.Context, op feed.Op, m model.Message) {
	if t.feed == nil {
		return
	}
	if err := t.feed.Publish(ctx, feed.MessageEvent(op, m)); err != nil {
		logger.Warnf("thread: publish %s %s: %v", op, m.ID, err)
	}
}

func (t *Thread) notifyReceiver(m model.Message) {
	if t.push == nil {
		return
	}
	title := renderTitle(model.NotificationNewMessage)
	if m.Sender != nil && m.Sender.DisplayName != "" {
		title = m.Sender.DisplayName
	}
	body := m.Content
	if utf8.RuneCountInString(body) > pushPreviewRunes {
		body = string([]rune(body)[:pushPreviewRunes]) + "…"
	}
	data := map[string]string{
		"conversation_id": m.ConversationID,
		"message_id":      m.ID,
		"url":             "/messages/" + m.ConversationID,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		t.push.Notify(ctx, m.ReceiverID, title, body, data)
	}()
}
