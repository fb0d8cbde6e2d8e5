package webhook

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryEventSetEvictsOldestFirst(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	set := NewMemoryEventSet(3)
	for index := 0; index < 4; index++ {
		if err := set.MarkProcessed(ctx, fmt.Sprintf("evt_%d", index)); err != nil {
			test.Fatalf("mark: %v", err)
		}
	}
	if set.Len() != 3 {
		test.Fatalf("expected 3 ids, got %d", set.Len())
	}
	if duplicate, _ := set.IsDuplicate(ctx, "evt_0"); duplicate {
		test.Fatalf("expected oldest id evicted")
	}
	if duplicate, _ := set.IsDuplicate(ctx, "evt_3"); !duplicate {
		test.Fatalf("expected newest id retained")
	}
}

func TestMemoryEventSetMarkClaimsOnceAndForgets(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	set := NewMemoryEventSet(0)
	if err := set.MarkProcessed(ctx, "evt_1"); err != nil {
		test.Fatalf("mark: %v", err)
	}
	if err := set.MarkProcessed(ctx, "evt_1"); !errors.Is(err, ErrAlreadyProcessed) {
		test.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if set.Len() != 1 {
		test.Fatalf("expected single id, got %d", set.Len())
	}
	_ = set.Forget(ctx, "evt_1")
	_ = set.Forget(ctx, "evt_missing")
	if duplicate, _ := set.IsDuplicate(ctx, "evt_1"); duplicate {
		test.Fatalf("expected id forgotten")
	}
}

type fakeRedis struct {
	keys     map[string]time.Duration
	failWith error
}

func (client *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	var count int64
	for _, key := range keys {
		if _, found := client.keys[key]; found {
			count++
		}
	}
	return redis.NewIntResult(count, client.failWith)
}

func (client *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, expiration time.Duration) *redis.BoolCmd {
	if _, found := client.keys[key]; found {
		return redis.NewBoolResult(false, client.failWith)
	}
	client.keys[key] = expiration
	return redis.NewBoolResult(true, client.failWith)
}

func (client *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(client.keys, key)
	}
	return redis.NewIntResult(int64(len(keys)), client.failWith)
}

func TestRedisEventSetRoundTrip(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	client := &fakeRedis{keys: map[string]time.Duration{}}
	set, err := NewRedisEventSet(client, 0)
	if err != nil {
		test.Fatalf("new set: %v", err)
	}
	if err := set.MarkProcessed(ctx, "evt_123"); err != nil {
		test.Fatalf("mark: %v", err)
	}
	if ttl := client.keys[redisEventPrefix+"evt_123"]; ttl != DefaultEventTTL {
		test.Fatalf("expected default ttl, got %s", ttl)
	}
	if duplicate, err := set.IsDuplicate(ctx, "evt_123"); err != nil || !duplicate {
		test.Fatalf("expected duplicate, got %v (%v)", duplicate, err)
	}
	if err := set.Forget(ctx, "evt_123"); err != nil {
		test.Fatalf("forget: %v", err)
	}
	if duplicate, err := set.IsDuplicate(ctx, "evt_123"); err != nil || duplicate {
		test.Fatalf("expected forgotten, got %v (%v)", duplicate, err)
	}
}

func TestRedisEventSetRejectsSecondClaim(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	client := &fakeRedis{keys: map[string]time.Duration{}}
	set, err := NewRedisEventSet(client, time.Hour)
	if err != nil {
		test.Fatalf("new set: %v", err)
	}
	client.keys[redisEventPrefix+"evt_race"] = time.Hour
	if err := set.MarkProcessed(ctx, "evt_race"); !errors.Is(err, ErrAlreadyProcessed) {
		test.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestRedisEventSetPropagatesErrors(test *testing.T) {
	test.Parallel()
	errUnavailable := errors.New("redis unavailable")
	set, err := NewRedisEventSet(&fakeRedis{keys: map[string]time.Duration{}, failWith: errUnavailable}, time.Hour)
	if err != nil {
		test.Fatalf("new set: %v", err)
	}
	if _, err := set.IsDuplicate(context.Background(), "evt_1"); !errors.Is(err, errUnavailable) {
		test.Fatalf("expected redis error, got %v", err)
	}
	if _, err := NewRedisEventSet(nil, time.Hour); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
