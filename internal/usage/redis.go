package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a Store implementation backed by Redis. Periodic counters
// carry the period TTL so Redis expires them on its own; Prune is a no-op.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store over an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "sponsorship"}
}

func (s *RedisStore) usageKey(account, policyID, periodKey string) string {
	return fmt.Sprintf("%s:usage:%s:%s:%s", s.prefix, account, policyID, periodKey)
}

func (s *RedisStore) oneTimeKey(account, policyID string) string {
	return fmt.Sprintf("%s:onetime:%s:%s", s.prefix, account, policyID)
}

// Usage returns the committed usage for the counter key.
func (s *RedisStore) Usage(ctx context.Context, account, policyID, periodKey string) (int64, error) {
	val, err := s.client.Get(ctx, s.usageKey(account, policyID, periodKey)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// AddUsage atomically adds amount to the counter key. INCRBY is atomic on
// the Redis side; the TTL is (re)set alongside so the counter disappears
// shortly after its period ends.
func (s *RedisStore) AddUsage(ctx context.Context, account, policyID, periodKey string, amount int64, ttl time.Duration) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	key := s.usageKey(account, policyID, periodKey)
	pipe := s.client.TxPipeline()
	pipe.IncrBy(ctx, key, amount)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis incr: %w", err)
	}
	return nil
}

// OneTimeConsumed reports whether the account has consumed the policy.
func (s *RedisStore) OneTimeConsumed(ctx context.Context, account, policyID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.oneTimeKey(account, policyID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// ConsumeOneTime permanently records the consumption. No TTL: one-time
// consumption never resets.
func (s *RedisStore) ConsumeOneTime(ctx context.Context, account, policyID string) error {
	if err := s.client.Set(ctx, s.oneTimeKey(account, policyID), "1", 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Prune is a no-op: Redis expires periodic counters via their TTL.
func (s *RedisStore) Prune(context.Context, time.Time) error { return nil }

var _ Store = (*RedisStore)(nil)
