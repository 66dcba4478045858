package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/promatch/internal/logger"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis разбирает URL и ждёт, пока Redis ответит на PING.
// logPrefix добавляется к сообщениям лога (например "push: ").
func ConnectRedis(ctx context.Context, redisURL string, maxWait time.Duration, logPrefix string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	ping := func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return struct{}{}, cli.Ping(pingCtx).Err()
	}
	_, err = backoff.Retry(ctx, ping,
		backoff.WithBackOff(waitPolicy()),
		backoff.WithMaxElapsedTime(maxWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Errorf("%sredis unavailable, retry in %v: %v", logPrefix, next, err)
		}),
	)
	if err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("%sredis (gave up after %v): %w (close: %v)", logPrefix, maxWait, err, closeErr)
		}
		return nil, fmt.Errorf("%sredis (gave up after %v): %w", logPrefix, maxWait, err)
	}
	return cli, nil
}
