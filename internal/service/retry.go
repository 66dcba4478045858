package service

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/storage"
)

// RetryPolicy применяется только к чтениям. Записи (send/edit/delete) не повторяются,
// чтобы не получить дубль сообщения.
type RetryPolicy struct {
	Attempts uint
	Initial  time.Duration
	Max      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: 100 * time.Millisecond, Max: 2 * time.Second}
}

// IsRetryable: таймауты и серверные сбои класса 5xx. Отмена ctx и логические ошибки не повторяются.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNotOwner) || errors.Is(err, storage.ErrMessageDeleted) {
		return false
	}
	if errors.Is(err, storage.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		return strings.HasPrefix(code, "08") || // connection exception
			strings.HasPrefix(code, "53") || // insufficient resources
			strings.HasPrefix(code, "57P") || // operator intervention (shutdown)
			code == "40001" || code == "40P01"
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func retryRead[T any](ctx context.Context, p RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnf("%s: retry in %v: %v", op, next, err)
		}),
	)
}
