package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/promatch/internal/feed"
	"github.com/promatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDerivesReceiver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)

	m, err := f.thread.Send(ctx, professionalID, convID, "  Hello  ")
	require.NoError(t, err)
	assert.Equal(t, "Hello", m.Content)
	assert.Equal(t, professionalID, m.SenderID)
	assert.Equal(t, clientID, m.ReceiverID)
	assert.False(t, m.IsRead)
	require.NotNil(t, m.Sender)
	assert.Equal(t, "Pro R", m.Sender.DisplayName)

	back, err := f.thread.Send(ctx, clientID, convID, "Hi")
	require.NoError(t, err)
	assert.Equal(t, professionalID, back.ReceiverID)
}

func TestSendRejectsBlankText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)

	// Ошибка хранилища не должна сработать: валидация идёт до обращения к нему.
	f.store.FailNext("messages.Create", errors.New("must not be reached"), 1)
	_, err := f.thread.Send(ctx, clientID, convID, " \n\t ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.thread.Send(ctx, clientID, convID, strings.Repeat("あ", MaxMessageRunes+1))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.thread.Send(ctx, clientID, convID, strings.Repeat("あ", MaxMessageRunes))
	// Длина на границе допустима, поэтому срабатывает заготовленный сбой записи.
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestSendFailureIsReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)
	boom := errors.New("connection reset")

	f.store.FailNext("messages.Create", boom, 1)
	_, err := f.thread.Send(ctx, clientID, convID, "Hello")
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, boom)

	msgs, err := f.thread.Load(ctx, clientID, convID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSendAccessChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)

	_, err := f.thread.Send(ctx, strangerID, convID, "hi")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.thread.Send(ctx, clientID, "missing", "hi")
	assert.ErrorIs(t, err, ErrNotFound)

	f.store.SetConversationStatus(convID, model.ConversationClosed)
	_, err = f.thread.Send(ctx, clientID, convID, "hi")
	assert.ErrorIs(t, err, ErrConversationClosed)
}

func TestSendPublishesAndPushes(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	convID := f.open(t, projectP)

	var mu sync.Mutex
	var events []feed.Event
	_, err := f.feed.Subscribe(ctx, feed.Filter{Table: feed.TableMessages, Column: feed.ColumnReceiver, Value: clientID},
		func(_ context.Context, e feed.Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		})
	require.NoError(t, err)

	m, err := f.thread.Send(ctx, professionalID, convID, "Hello")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, feed.OpInsert, events[0].Op)
	assert.Equal(t, m.ID, events[0].Message.ID)
	mu.Unlock()

	assert.Eventually(t, func() bool { return len(f.push.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	call := f.push.snapshot()[0]
	assert.Equal(t, clientID, call.userID)
	assert.Equal(t, "Pro R", call.title)
	assert.Equal(t, "Hello", call.body)
	assert.Equal(t, "/messages/"+convID, call.data["url"])
}

func TestLoadMarksReadAndResetsUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)
	_, err := f.thread.Send(ctx, professionalID, convID, "Hello")
	require.NoError(t, err)

	list, err := f.dir.List(ctx, clientID, model.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, 1, list[0].UnreadCount)

	msgs, err := f.thread.Load(ctx, clientID, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.True(t, msgs[0].IsRead)
	require.NotNil(t, msgs[0].Sender)
	assert.Equal(t, "Pro R", msgs[0].Sender.DisplayName)

	list, err = f.dir.List(ctx, clientID, model.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, 0, list[0].UnreadCount)
}

func TestLoadOrderingAscending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)
	for i, text := range []string{"one", "two", "three", "four"} {
		sender := clientID
		if i%2 == 1 {
			sender = professionalID
		}
		_, err := f.thread.Send(ctx, sender, convID, text)
		require.NoError(t, err)
	}

	msgs, err := f.thread.Load(ctx, clientID, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "four", msgs[3].Content)
}

func TestLoadAccessChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)

	_, err := f.thread.Load(ctx, strangerID, convID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.thread.Load(ctx, clientID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadSurvivesMarkReadFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)
	_, err := f.thread.Send(ctx, professionalID, convID, "Hello")
	require.NoError(t, err)

	f.store.FailNext("messages.MarkConversationRead", errors.New("timeout"), 1)
	msgs, err := f.thread.Load(ctx, clientID, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].IsRead)
}

func TestEditBySenderOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)
	m, err := f.thread.Send(ctx, professionalID, convID, "Hello")
	require.NoError(t, err)

	require.NoError(t, f.thread.Edit(ctx, professionalID, m.ID, "Hello there"))

	err = f.thread.Edit(ctx, clientID, m.ID, "hijacked")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	err = f.thread.Delete(ctx, clientID, m.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	raw, ok := f.store.RawMessage(m.ID)
	require.True(t, ok)
	assert.Equal(t, "Hello there", raw.Content)
	assert.False(t, raw.IsDeleted)
	require.NotNil(t, raw.EditedAt)

	msgs, err := f.thread.Load(ctx, clientID, convID)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", msgs[0].Content)
	assert.NotNil(t, msgs[0].EditedAt)
}

func TestEditValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.thread.Edit(ctx, clientID, "m", "   "), ErrValidation)
	assert.ErrorIs(t, f.thread.Edit(ctx, clientID, "missing", "text"), ErrNotFound)
}

func TestDeleteHidesContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)
	before, err := f.thread.Send(ctx, clientID, convID, "before")
	require.NoError(t, err)
	m, err := f.thread.Send(ctx, professionalID, convID, "Hello there")
	require.NoError(t, err)
	_, err = f.thread.Send(ctx, clientID, convID, "after")
	require.NoError(t, err)

	require.NoError(t, f.thread.Delete(ctx, professionalID, m.ID))

	for _, viewer := range []string{clientID, professionalID} {
		msgs, err := f.thread.Load(ctx, viewer, convID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, before.ID, msgs[0].ID)
		assert.True(t, msgs[1].IsDeleted)
		assert.Empty(t, msgs[1].Content)
		for _, other := range msgs {
			assert.NotContains(t, other.Content, "Hello there")
		}
	}

	// Строка остаётся для аудита.
	raw, _ := f.store.RawMessage(m.ID)
	assert.Equal(t, "Hello there", raw.Content)
	require.NotNil(t, raw.DeletedBy)
	assert.Equal(t, professionalID, *raw.DeletedBy)

	assert.ErrorIs(t, f.thread.Edit(ctx, professionalID, m.ID, "resurrect"), ErrMessageDeleted)
	assert.ErrorIs(t, f.thread.Delete(ctx, professionalID, m.ID), ErrMessageDeleted)
}

func TestDeletePreviewIsRedacted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)
	m, err := f.thread.Send(ctx, professionalID, convID, "secret")
	require.NoError(t, err)
	require.NoError(t, f.thread.Delete(ctx, professionalID, m.ID))

	list, err := f.dir.List(ctx, clientID, model.RoleClient)
	require.NoError(t, err)
	require.NotNil(t, list[0].LastMessage)
	assert.True(t, list[0].LastMessage.IsDeleted)
	assert.Empty(t, list[0].LastMessage.Content)
}

func TestDeleteWithErasure(t *testing.T) {
	f := newFixture(t)
	f.thread.eraseDeleted = true
	ctx := context.Background()
	convID := f.open(t, projectP)
	m, err := f.thread.Send(ctx, clientID, convID, "wipe me")
	require.NoError(t, err)
	require.NoError(t, f.thread.Delete(ctx, clientID, m.ID))

	raw, _ := f.store.RawMessage(m.ID)
	assert.Empty(t, raw.Content)
	assert.True(t, raw.IsDeleted)
}

func TestEditAndDeletePublishUpdates(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	convID := f.open(t, projectP)
	m, err := f.thread.Send(ctx, professionalID, convID, "Hello")
	require.NoError(t, err)

	var mu sync.Mutex
	var updates []model.Message
	_, err = f.feed.Subscribe(ctx, feed.Filter{Table: feed.TableMessages, Op: feed.OpUpdate, Column: feed.ColumnReceiver, Value: clientID},
		func(_ context.Context, e feed.Event) {
			mu.Lock()
			updates = append(updates, *e.Message)
			mu.Unlock()
		})
	require.NoError(t, err)

	require.NoError(t, f.thread.Edit(ctx, professionalID, m.ID, "Hello there"))
	require.NoError(t, f.thread.Delete(ctx, professionalID, m.ID))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Hello there", updates[0].Content)
	assert.True(t, updates[1].IsDeleted)
	assert.Empty(t, updates[1].Content)
}

func TestMarkReadIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)
	m, err := f.thread.Send(ctx, professionalID, convID, "Hello")
	require.NoError(t, err)

	n, err := f.thread.MarkRead(ctx, clientID, []string{m.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	first, _ := f.store.RawMessage(m.ID)

	for i := 0; i < 3; i++ {
		n, err = f.thread.MarkRead(ctx, clientID, []string{m.ID})
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
	again, _ := f.store.RawMessage(m.ID)
	assert.True(t, again.IsRead)
	assert.Equal(t, first, again)

	// Отправитель не может пометить прочитанным своё же сообщение.
	n, err = f.thread.MarkRead(ctx, professionalID, []string{m.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWithSenderRedacts(t *testing.T) {
	f := newFixture(t)
	m := f.thread.WithSender(context.Background(), model.Message{ID: "x", SenderID: professionalID, Content: "gone", IsDeleted: true})
	assert.Empty(t, m.Content)
	require.NotNil(t, m.Sender)
	assert.Equal(t, "Pro R", m.Sender.DisplayName)
}
