// Package redis: Feed поверх Redis pub/sub, чтобы события доходили до сессий
// пользователя, подключённых к другим инстансам API.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/promatch/internal/feed"
	"github.com/promatch/internal/logger"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "feed:"

type Feed struct {
	cli *redis.Client
}

func New(cli *redis.Client) *Feed {
	return &Feed{cli: cli}
}

// Channel - канал строки feed:{table}:{column}:{value}. Op фильтруется на стороне подписчика.
func Channel(table feed.Table, column feed.Column, value string) string {
	return fmt.Sprintf("%s%s:%s:%s", channelPrefix, table, column, value)
}

func (f *Feed) Publish(ctx context.Context, e feed.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redisFeed.Publish marshal: %w", err)
	}
	pipe := f.cli.Pipeline()
	for _, col := range e.Columns() {
		if v := e.Value(col); v != "" {
			pipe.Publish(ctx, Channel(e.Table, col, v), payload)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisFeed.Publish: %w", err)
	}
	return nil
}

type subscription struct {
	ps   *redis.PubSub
	once sync.Once
	err  error
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() { s.err = s.ps.Close() })
	return s.err
}

func (f *Feed) Subscribe(ctx context.Context, filter feed.Filter, h feed.Handler) (feed.Subscription, error) {
	ch := Channel(filter.Table, filter.Column, filter.Value)
	ps := f.cli.Subscribe(ctx, ch)
	// Дожидаемся подтверждения подписки, иначе событие сразу после Subscribe может потеряться.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redisFeed.Subscribe %s: %w", ch, err)
	}
	sub := &subscription{ps: ps}
	msgs := ps.Channel()
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e feed.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					logger.Errorf("redisFeed: bad payload on %s: %v", msg.Channel, err)
					continue
				}
				if filter.Match(e) {
					h(ctx, e)
				}
			}
		}
	}()
	return sub, nil
}

var _ feed.Feed = (*Feed)(nil)
