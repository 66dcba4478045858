package service

import (
	"context"
	"errors"
	"testing"

	"github.com/promatch/internal/model"
	"github.com/promatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenReusesExistingConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := OpenRequest{ProfessionalID: professionalID, ProjectID: projectP, Reason: model.ReasonApplication}

	first, created, err := f.dir.Open(ctx, clientID, model.RoleClient, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.ConversationActive, first.Status)

	req.Reason = model.ReasonScout
	second, created, err := f.dir.Open(ctx, clientID, model.RoleClient, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestOpenSecondProjectIsIndependent(t *testing.T) {
	f := newFixture(t)
	p := f.open(t, projectP)
	p2 := f.open(t, projectP2)
	assert.NotEqual(t, p, p2)

	list, err := f.dir.List(context.Background(), clientID, model.RoleClient)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestOpenValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.dir.Open(ctx, professionalID, model.RoleProfessional, OpenRequest{ProfessionalID: clientID, ProjectID: projectP, Reason: model.ReasonScout})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, _, err = f.dir.Open(ctx, clientID, model.RoleClient, OpenRequest{ProfessionalID: professionalID, ProjectID: projectP, Reason: "bribe"})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = f.dir.Open(ctx, clientID, model.RoleClient, OpenRequest{ProfessionalID: clientID, ProjectID: projectP, Reason: model.ReasonScout})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = f.dir.Open(ctx, clientID, model.RoleClient, OpenRequest{ProjectID: projectP, Reason: model.ReasonScout})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListEnrichesSummaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.open(t, projectP)

	_, err := f.thread.Send(ctx, professionalID, convID, "Hello")
	require.NoError(t, err)

	list, err := f.dir.List(ctx, clientID, model.RoleClient)
	require.NoError(t, err)
	require.Len(t, list, 1)
	s := list[0]
	require.NotNil(t, s.Counterpart)
	assert.Equal(t, "Pro R", s.Counterpart.DisplayName)
	require.NotNil(t, s.Project)
	assert.Equal(t, "Logo design", s.Project.Title)
	require.NotNil(t, s.LastMessage)
	assert.Equal(t, "Hello", s.LastMessage.Content)
	assert.Equal(t, professionalID, s.LastMessage.SenderID)
	assert.Equal(t, 1, s.UnreadCount)
	require.NotNil(t, s.Conversation.LastMessageAt)

	// Для отправителя его собственное сообщение непрочитанным не считается.
	proList, err := f.dir.List(ctx, professionalID, model.RoleProfessional)
	require.NoError(t, err)
	require.Len(t, proList, 1)
	assert.Equal(t, 0, proList[0].UnreadCount)
	assert.Equal(t, "Client C", proList[0].Counterpart.DisplayName)
}

func TestListOrdersByLastActivityNullsLast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quiet := f.open(t, projectP)
	busy := f.open(t, projectP2)
	_, err := f.thread.Send(ctx, clientID, busy, "ping")
	require.NoError(t, err)

	list, err := f.dir.List(ctx, clientID, model.RoleClient)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, busy, list[0].Conversation.ID)
	assert.Equal(t, quiet, list[1].Conversation.ID)
	assert.Nil(t, list[1].LastMessage)
}

func TestListSkipsInactiveConversations(t *testing.T) {
	f := newFixture(t)
	convID := f.open(t, projectP)
	f.store.SetConversationStatus(convID, model.ConversationClosed)

	list, err := f.dir.List(context.Background(), clientID, model.RoleClient)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListEmptyIsNotFailure(t *testing.T) {
	f := newFixture(t)
	list, err := f.dir.List(context.Background(), clientID, model.RoleClient)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestListRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	f.open(t, projectP)

	f.store.FailNext("conversations.ListActive", storage.ErrUnavailable, 2)
	list, err := f.dir.List(context.Background(), clientID, model.RoleClient)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestListGivesUpAfterAttempts(t *testing.T) {
	f := newFixture(t)
	f.open(t, projectP)

	f.store.FailNext("messages.ListUnreadForReceiver", storage.ErrUnavailable, 10)
	_, err := f.dir.List(context.Background(), clientID, model.RoleClient)
	assert.ErrorIs(t, err, ErrLoadFailed)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestListDoesNotRetryPermanentFailures(t *testing.T) {
	f := newFixture(t)
	f.open(t, projectP)
	boom := errors.New("syntax error")

	f.store.FailNext("profiles.GetByIDs", boom, 2)
	_, err := f.dir.List(context.Background(), clientID, model.RoleClient)
	assert.ErrorIs(t, err, ErrLoadFailed)
	// Одна попытка на вызов: вторая ошибка ещё в очереди.
	_, err = f.dir.List(context.Background(), clientID, model.RoleClient)
	assert.ErrorIs(t, err, boom)
	_, err = f.dir.List(context.Background(), clientID, model.RoleClient)
	assert.NoError(t, err)
}

func TestListValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.dir.List(context.Background(), "", model.RoleClient)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.dir.List(context.Background(), clientID, "admin")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUnreadTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, projectP)
	b := f.open(t, projectP2)
	for _, conv := range []string{a, a, b} {
		_, err := f.thread.Send(ctx, professionalID, conv, "hi")
		require.NoError(t, err)
	}

	n, err := f.dir.UnreadTotal(ctx, clientID, model.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = f.thread.Load(ctx, clientID, a)
	require.NoError(t, err)
	n, err = f.dir.UnreadTotal(ctx, clientID, model.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
