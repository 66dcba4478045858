package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/promatch/internal/logger"
)

// waitPolicy: экспоненциальные повторы 2s → 30s, как при старте в docker-compose,
// где БД и Redis поднимаются параллельно с сервисом.
func waitPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2
	return b
}

// ConnectDB подключается к Postgres с повторами до maxWait.
// logPrefix добавляется к сообщениям лога (например "push: ").
func ConnectDB(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration, logPrefix string) (*pgxpool.Pool, error) {
	connect := func() (*pgxpool.Pool, error) {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := pgxpool.NewWithConfig(dialCtx, poolCfg)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(pingCtx)
		pingCancel()
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping: %w", err)
		}
		return pool, nil
	}
	pool, err := backoff.Retry(ctx, connect,
		backoff.WithBackOff(waitPolicy()),
		backoff.WithMaxElapsedTime(maxWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Errorf("%sdb unavailable, retry in %v: %v", logPrefix, next, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%sdb (gave up after %v): %w", logPrefix, maxWait, err)
	}
	return pool, nil
}
