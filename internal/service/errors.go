package service

import (
	"errors"
	"fmt"

	"github.com/promatch/internal/storage"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNotFound           = errors.New("not found")
	ErrMessageDeleted     = errors.New("message deleted")
	ErrConversationClosed = errors.New("conversation closed")
	// ErrSendFailed: сообщение не сохранено; клиент оставляет введённый текст и даёт повторить.
	ErrSendFailed = errors.New("send failed")
	// ErrLoadFailed отличает сбой чтения от пустого результата.
	ErrLoadFailed  = errors.New("load failed")
	ErrWriteFailed = errors.New("write failed")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapWriteErr переводит ошибки хранилища в ошибки сервиса для операций записи.
func mapWriteErr(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrNotOwner):
		return ErrPermissionDenied
	case errors.Is(err, storage.ErrMessageDeleted):
		return ErrMessageDeleted
	}
	return fmt.Errorf("%w: %s: %w", ErrWriteFailed, op, err)
}

// mapReadErr то же для чтений: всё, кроме отсутствия строки, считается сбоем загрузки.
func mapReadErr(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %s: %w", ErrLoadFailed, op, err)
}

// Code: машиночитаемый код ошибки для клиентов (ws error, JSON-ответы).
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMessageDeleted):
		return "message_deleted"
	case errors.Is(err, ErrConversationClosed):
		return "conversation_closed"
	case errors.Is(err, ErrSendFailed):
		return "send_failed"
	case errors.Is(err, ErrLoadFailed):
		return "load_failed"
	case errors.Is(err, ErrWriteFailed):
		return "write_failed"
	}
	return "internal"
}
