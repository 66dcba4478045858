package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/promatch/internal/logger"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

// SubscriptionStore хранит подписки пользователя списком в Redis: последние maxSubsPerUser,
// ключ живёт subscriptionTTL с последней подписки.
type SubscriptionStore struct {
	rdb *redis.Client
}

func NewSubscriptionStore(rdb *redis.Client) *SubscriptionStore {
	return &SubscriptionStore{rdb: rdb}
}

func subsKey(userID string) string { return redisKeyPrefix + userID }

// Add сохраняет подписку. Повторная подписка того же endpoint заменяет старую.
func (s *SubscriptionStore) Add(ctx context.Context, userID string, sub PushSubscription) error {
	defer logger.DeferLogDuration("pushStore.Add", time.Now())()
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("pushStore.Add: %w", err)
	}
	if err := s.Remove(ctx, userID, sub.Endpoint); err != nil {
		return err
	}
	key := subsKey(userID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pushStore.Add: %w", err)
	}
	return nil
}

// List возвращает валидные подписки пользователя; битые записи пропускаются.
func (s *SubscriptionStore) List(ctx context.Context, userID string) ([]PushSubscription, error) {
	defer logger.DeferLogDuration("pushStore.List", time.Now())()
	items, err := s.rdb.LRange(ctx, subsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("pushStore.List: %w", err)
	}
	subs := make([]PushSubscription, 0, len(items))
	for _, item := range items {
		var sub PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Valid() {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// Remove удаляет все записи с данным endpoint.
func (s *SubscriptionStore) Remove(ctx context.Context, userID, endpoint string) error {
	defer logger.DeferLogDuration("pushStore.Remove", time.Now())()
	key := subsKey(userID)
	items, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("pushStore.Remove: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	n := 0
	for _, item := range items {
		var sub PushSubscription
		if json.Unmarshal([]byte(item), &sub) != nil || sub.Endpoint == endpoint {
			pipe.LRem(ctx, key, 0, item)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pushStore.Remove: %w", err)
	}
	return nil
}
