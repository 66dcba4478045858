package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/service"
)

const maxBodyBytes = 64 * 1024

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError переводит ошибку сервиса в HTTP-статус и понятное сообщение.
// Подробности сбоев хранилища остаются в логе.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	code := service.Code(err)
	status, msg := http.StatusInternalServerError, "internal error"
	switch code {
	case "validation":
		status, msg = http.StatusBadRequest, err.Error()
	case "permission_denied":
		status, msg = http.StatusForbidden, "not allowed"
	case "not_found":
		status, msg = http.StatusNotFound, "not found"
	case "message_deleted":
		status, msg = http.StatusConflict, "message was deleted"
	case "conversation_closed":
		status, msg = http.StatusConflict, "conversation is closed"
	case "send_failed":
		msg = "message was not sent, try again"
	case "load_failed":
		msg = "failed to load, try again"
	case "write_failed":
		msg = "failed to save, try again"
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s: %v", op, err)
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// decodeJSON читает тело запроса в v. Пустое тело допустимо, если allowEmpty.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid body")
	return false
}
