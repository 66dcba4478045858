package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/promatch/internal/middleware"
	"github.com/promatch/internal/service"
)

type NotificationHandler struct {
	center *service.NotificationCenter
}

func NewNotificationHandler(center *service.NotificationCenter) *NotificationHandler {
	return &NotificationHandler{center: center}
}

// List GET /api/notifications - последние уведомления и число непрочитанных.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.center.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "notifications.List", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.center.MarkRead(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "notifications.MarkRead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type markAllReadRequest struct {
	UserID string `json:"user_id"`
}

// MarkAllRead: POST /api/notifications/read-all. user_id в теле необязателен и
// должен совпадать с вызывающим.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	var req markAllReadRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	n, err := h.center.MarkAllRead(r.Context(), middleware.GetUserID(r.Context()), req.UserID)
	if err != nil {
		writeServiceError(w, "notifications.MarkAllRead", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.center.Delete(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, "notifications.Delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
