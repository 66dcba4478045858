package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/promatch/internal/middleware"
	"github.com/promatch/internal/service"
)

type MessageHandler struct {
	thread *service.Thread
}

func NewMessageHandler(thread *service.Thread) *MessageHandler {
	return &MessageHandler{thread: thread}
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// Edit: PUT /api/messages/{id}. Только автор, только неудалённое сообщение.
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.thread.Edit(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.Content); err != nil {
		writeServiceError(w, "messages.Edit", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete: DELETE /api/messages/{id} (мягкое удаление).
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.thread.Delete(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "messages.Delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkRead: POST /api/messages/{id}/read. Повторный вызов ничего не меняет.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.thread.MarkRead(r.Context(), middleware.GetUserID(r.Context()), []string{chi.URLParam(r, "id")})
	if err != nil {
		writeServiceError(w, "messages.MarkRead", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}
