package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"keel/domain"
)

const (
	redisKeyPrefix = "keel:cache:"
	redisTagPrefix = "keel:tag:"
)

// RedisStore shares cached results across processes. Values are stored as
// JSON; Get returns json.RawMessage, so callers on this store consume
// serialized results rather than live handler values. Tags live in redis
// sets keyed by entity type.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (any, bool, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return json.RawMessage(raw), true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value any, tags []domain.EntityType, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set: marshal value: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+key, payload, ttl)
	for _, tag := range tags {
		tagKey := redisTagPrefix + string(tag)
		pipe.SAdd(ctx, tagKey, key)
		// The tag set must outlive its longest-lived member.
		pipe.Expire(ctx, tagKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (s *RedisStore) Invalidate(ctx context.Context, tags []domain.EntityType) error {
	for _, tag := range tags {
		tagKey := redisTagPrefix + string(tag)
		members, err := s.client.SMembers(ctx, tagKey).Result()
		if err != nil {
			return fmt.Errorf("cache invalidate %q: %w", tag, err)
		}
		if len(members) > 0 {
			keys := make([]string, len(members))
			for i, m := range members {
				keys[i] = redisKeyPrefix + m
			}
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache invalidate %q: %w", tag, err)
			}
		}
		if err := s.client.Del(ctx, tagKey).Err(); err != nil {
			return fmt.Errorf("cache invalidate %q: %w", tag, err)
		}
	}
	return nil
}
