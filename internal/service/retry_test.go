package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/promatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(storage.ErrNotFound))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", storage.ErrUnavailable)))

	for code, want := range map[string]bool{
		"08006": true,  // connection failure
		"53300": true,  // too many connections
		"57P01": true,  // admin shutdown
		"40001": true,  // serialization failure
		"23505": false, // unique violation
		"42501": false, // insufficient privilege
	} {
		assert.Equal(t, want, IsRetryable(&pgconn.PgError{Code: code}), code)
	}
}

func TestRetryReadStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := retryRead(ctx, fastRetry, "test", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, storage.ErrUnavailable
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryReadAttempts(t *testing.T) {
	calls := 0
	v, err := retryRead(context.Background(), fastRetry, "test", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", storage.ErrUnavailable
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}
