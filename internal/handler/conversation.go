package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/promatch/internal/middleware"
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/service"
)

type ConversationHandler struct {
	dir    *service.Directory
	thread *service.Thread
}

func NewConversationHandler(dir *service.Directory, thread *service.Thread) *ConversationHandler {
	return &ConversationHandler{dir: dir, thread: thread}
}

// callerRole: роль из контекста; ?role= допускается только совпадающая с ней.
func callerRole(w http.ResponseWriter, r *http.Request) (model.Role, bool) {
	role := middleware.GetRole(r.Context())
	if q := r.URL.Query().Get("role"); q != "" {
		if asked := model.Role(q); !asked.Valid() {
			writeError(w, http.StatusBadRequest, "role must be client or professional")
			return "", false
		} else if asked != role {
			writeError(w, http.StatusForbidden, "role does not match profile")
			return "", false
		}
	}
	if !role.Valid() {
		writeError(w, http.StatusForbidden, "role unknown")
		return "", false
	}
	return role, true
}

// List: GET /api/conversations.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	role, ok := callerRole(w, r)
	if !ok {
		return
	}
	list, err := h.dir.List(r.Context(), middleware.GetUserID(r.Context()), role)
	if err != nil {
		writeServiceError(w, "conversations.List", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Unread: GET /api/conversations/unread.
func (h *ConversationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	role, ok := callerRole(w, r)
	if !ok {
		return
	}
	n, err := h.dir.UnreadTotal(r.Context(), middleware.GetUserID(r.Context()), role)
	if err != nil {
		writeServiceError(w, "conversations.Unread", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

// Open POST /api/conversations - 201 для новой переписки, 200 для существующей.
func (h *ConversationHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req service.OpenRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	conv, created, err := h.dir.Open(r.Context(), middleware.GetUserID(r.Context()), middleware.GetRole(r.Context()), req)
	if err != nil {
		writeServiceError(w, "conversations.Open", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"conversation": conv, "created": created})
}

// Messages GET /api/conversations/{id}/messages - история, входящие помечаются прочитанными.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.thread.Load(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, "conversations.Messages", err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// Send: POST /api/conversations/{id}/messages.
func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	m, err := h.thread.Send(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeServiceError(w, "conversations.Send", err)
		return
	}
	writeJSON(w, http.StatusCreated, m.Redacted())
}
