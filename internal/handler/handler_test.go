package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/promatch/internal/config"
	"github.com/promatch/internal/middleware"
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/service"
	"github.com/promatch/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	clientID = "client-c"
	proID    = "pro-r"
)

type testAPI struct {
	store  *memory.Store
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memory.New()
	store.AddProfile(model.Profile{ID: clientID, DisplayName: "Client C", Role: model.RoleClient})
	store.AddProfile(model.Profile{ID: proID, DisplayName: "Pro R", Role: model.RoleProfessional})
	store.AddProfile(model.Profile{ID: "other", DisplayName: "Other", Role: model.RoleProfessional})
	store.AddProject(model.ProjectSummary{ID: "p1", Title: "Logo", Status: "open"})

	retry := service.RetryPolicy{Attempts: 1, Initial: time.Millisecond, Max: time.Millisecond}
	dir := service.NewDirectory(store.Conversations, store.Messages, store.Profiles, store.Projects, retry)
	thread := service.NewThread(store.Conversations, store.Messages, store.Profiles, nil, nil, retry, false)
	notes := service.NewNotificationCenter(store.Notifications, 20, retry)

	api := &API{
		Conversations: NewConversationHandler(dir, thread),
		Messages:      NewMessageHandler(thread),
		Notifications: NewNotificationHandler(notes),
		Config:        NewConfigHandler(&config.Config{Messaging: config.MessagingConfig{NotificationWindow: 20}}),
	}
	r := chi.NewRouter()
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.DevIdentity)
	r.Use(middleware.ResolveRole(store.Profiles))
	api.Mount(r)
	return &testAPI{store: store, router: r}
}

func (a *testAPI) do(t *testing.T, userID, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-User-Id", userID)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (a *testAPI) open(t *testing.T) string {
	t.Helper()
	w := a.do(t, clientID, http.MethodPost, "/api/conversations", `{"professional_id":"pro-r","project_id":"p1","reason":"application"}`)
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, w.Code, w.Body.String())
	resp := decode[struct {
		Conversation model.Conversation `json:"conversation"`
	}](t, w)
	return resp.Conversation.ID
}

func TestOpenConversationIsIdempotent(t *testing.T) {
	a := newTestAPI(t)
	body := `{"professional_id":"pro-r","project_id":"p1","reason":"application"}`

	w := a.do(t, clientID, http.MethodPost, "/api/conversations", body)
	require.Equal(t, http.StatusCreated, w.Code)
	first := decode[map[string]any](t, w)
	assert.Equal(t, true, first["created"])

	w = a.do(t, clientID, http.MethodPost, "/api/conversations", body)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[map[string]any](t, w)
	assert.Equal(t, false, second["created"])
	assert.Equal(t, first["conversation"].(map[string]any)["id"], second["conversation"].(map[string]any)["id"])

	w = a.do(t, proID, http.MethodPost, "/api/conversations", body)
	assert.Equal(t, http.StatusForbidden, w.Code, "professionals do not open conversations")

	w = a.do(t, clientID, http.MethodPost, "/api/conversations", `{"professional_id":"pro-r"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListConversations(t *testing.T) {
	a := newTestAPI(t)
	convID := a.open(t)

	w := a.do(t, proID, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]model.ConversationSummary](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, convID, list[0].Conversation.ID)
	require.NotNil(t, list[0].Counterpart)
	assert.Equal(t, "Client C", list[0].Counterpart.DisplayName)

	w = a.do(t, "other", http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = a.do(t, clientID, http.MethodGet, "/api/conversations?role=professional", "")
	assert.Equal(t, http.StatusForbidden, w.Code, "query role cannot override the profile role")
	w = a.do(t, clientID, http.MethodGet, "/api/conversations?role=client", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.ConversationSummary](t, w), 1)
	w = a.do(t, clientID, http.MethodGet, "/api/conversations?role=admin", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendLoadAndUnread(t *testing.T) {
	a := newTestAPI(t)
	convID := a.open(t)

	w := a.do(t, clientID, http.MethodPost, "/api/conversations/"+convID+"/messages", `{"content":"  Hello  "}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sent := decode[model.Message](t, w)
	assert.Equal(t, "Hello", sent.Content)
	assert.Equal(t, proID, sent.ReceiverID)

	w = a.do(t, proID, http.MethodGet, "/api/conversations/unread", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"unread":1}`, w.Body.String())

	w = a.do(t, proID, http.MethodGet, "/api/conversations/"+convID+"/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[[]model.Message](t, w)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)

	w = a.do(t, proID, http.MethodGet, "/api/conversations/unread", "")
	assert.JSONEq(t, `{"unread":0}`, w.Body.String())

	w = a.do(t, "other", http.MethodGet, "/api/conversations/"+convID+"/messages", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = a.do(t, clientID, http.MethodPost, "/api/conversations/"+convID+"/messages", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = a.do(t, clientID, http.MethodPost, "/api/conversations/missing/messages", `{"content":"hi"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = a.do(t, clientID, http.MethodPost, "/api/conversations/"+convID+"/messages", `{"content":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendToClosedConversation(t *testing.T) {
	a := newTestAPI(t)
	convID := a.open(t)
	a.store.SetConversationStatus(convID, model.ConversationClosed)

	w := a.do(t, clientID, http.MethodPost, "/api/conversations/"+convID+"/messages", `{"content":"hi"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conversation_closed", decode[errorResponse](t, w).Code)
}

func TestEditDeleteAndMarkRead(t *testing.T) {
	a := newTestAPI(t)
	convID := a.open(t)
	w := a.do(t, clientID, http.MethodPost, "/api/conversations/"+convID+"/messages", `{"content":"draft"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	msgID := decode[model.Message](t, w).ID

	w = a.do(t, proID, http.MethodPut, "/api/messages/"+msgID, `{"content":"hijack"}`)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the author edits")

	w = a.do(t, clientID, http.MethodPut, "/api/messages/"+msgID, `{"content":"final"}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(t, proID, http.MethodPost, "/api/messages/"+msgID+"/read", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":1}`, w.Body.String())
	w = a.do(t, proID, http.MethodPost, "/api/messages/"+msgID+"/read", "")
	assert.JSONEq(t, `{"updated":0}`, w.Body.String())

	w = a.do(t, clientID, http.MethodDelete, "/api/messages/"+msgID, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = a.do(t, clientID, http.MethodPut, "/api/messages/"+msgID, `{"content":"again"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, proID, http.MethodGet, "/api/conversations/"+convID+"/messages", "")
	msgs := decode[[]model.Message](t, w)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted)
	assert.Empty(t, msgs[0].Content)
}

func TestNotifications(t *testing.T) {
	a := newTestAPI(t)
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	a.store.AddNotification(model.Notification{ID: "n1", UserID: proID, Type: model.NotificationApplicationAccepted,
		Title: "x", Message: `"Logo"への応募が承認されました`, CreatedAt: base})
	a.store.AddNotification(model.Notification{ID: "n2", UserID: proID, Type: model.NotificationSystem,
		Title: "Maintenance", Message: "Tonight", CreatedAt: base.Add(time.Minute)})

	w := a.do(t, proID, http.MethodGet, "/api/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[service.NotificationList](t, w)
	require.Len(t, list.Items, 2)
	assert.Equal(t, 2, list.UnreadCount)
	assert.Equal(t, "Maintenance", list.Items[0].Title)
	assert.Equal(t, "応募が承認されました！", list.Items[1].Title)
	assert.Equal(t, "「Logo」への応募が承認されました。", list.Items[1].Body)

	w = a.do(t, clientID, http.MethodPost, "/api/notifications/n1/read", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "someone else's notification")
	w = a.do(t, proID, http.MethodPost, "/api/notifications/n1/read", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(t, proID, http.MethodPost, "/api/notifications/read-all", `{"user_id":"client-c"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = a.do(t, proID, http.MethodPost, "/api/notifications/read-all", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":1}`, w.Body.String())

	w = a.do(t, proID, http.MethodDelete, "/api/notifications/n2", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = a.do(t, proID, http.MethodGet, "/api/notifications", "")
	list = decode[service.NotificationList](t, w)
	assert.Len(t, list.Items, 1)
	assert.Zero(t, list.UnreadCount)
}

func TestUnknownProfileIsForbidden(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, "ghost", http.MethodGet, "/api/conversations", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMessagingConfig(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, clientID, http.MethodGet, "/api/config/messaging", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"max_message_length":4000,"notification_window":20}`, w.Body.String())
}
