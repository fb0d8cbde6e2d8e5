package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultEventTTL keeps processed ids well past the provider's retry window.
	DefaultEventTTL  = 30 * 24 * time.Hour
	redisEventPrefix = "aurisvoice:webhook:event:"
	redisEventValue  = "1"
)

type redisCommands interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisEventSet stores processed ids in Redis so they survive restarts.
type RedisEventSet struct {
	client redisCommands
	ttl    time.Duration
}

// NewRedisEventSet wraps a go-redis client.
func NewRedisEventSet(client redisCommands, ttl time.Duration) (*RedisEventSet, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrInvalidConfig)
	}
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &RedisEventSet{client: client, ttl: ttl}, nil
}

func (set *RedisEventSet) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	count, err := set.client.Exists(ctx, redisEventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed claims eventID. A key already present, for example set by another
// instance after IsDuplicate ran, yields ErrAlreadyProcessed.
func (set *RedisEventSet) MarkProcessed(ctx context.Context, eventID string) error {
	claimed, err := set.client.SetNX(ctx, redisEventKey(eventID), redisEventValue, set.ttl).Result()
	if err != nil {
		return fmt.Errorf("mark processed event: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, eventID)
	}
	return nil
}

func (set *RedisEventSet) Forget(ctx context.Context, eventID string) error {
	if err := set.client.Del(ctx, redisEventKey(eventID)).Err(); err != nil {
		return fmt.Errorf("forget processed event: %w", err)
	}
	return nil
}

func redisEventKey(eventID string) string {
	return redisEventPrefix + eventID
}
