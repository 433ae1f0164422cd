package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix   = "auth:ratelimit:"
	violationSuffix = ":violations"
	suspectSuffix   = ":suspect"
)

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a Store backed by the given Redis client. Window and
// violation counters are plain keys with TTLs; INCR gives the per-key
// atomicity, so concurrent requests on one key serialize in Redis, not here.
func NewRedis(client *redis.Client, prefix string) Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) key(key string) string { return s.prefix + key }

func (s *redisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	k := s.key(key)
	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, k)
	pttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}
	count := incr.Val()
	ttl := pttl.Val()
	if ttl < 0 {
		// Fresh window (or a counter orphaned without expiry): start the clock.
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("ratelimit: expire %s: %w", key, err)
		}
		ttl = window
	}
	return count, time.Now().Add(ttl), nil
}

func (s *redisStore) AddViolation(ctx context.Context, key string, horizon time.Duration) (int64, error) {
	k := s.key(key) + violationSuffix
	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: violation incr %s: %w", key, err)
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, k, horizon).Err(); err != nil {
			return 0, fmt.Errorf("ratelimit: violation expire %s: %w", key, err)
		}
	}
	return count, nil
}

func (s *redisStore) MarkSuspicious(ctx context.Context, key string) error {
	// No TTL: the flag is sticky until explicitly cleared.
	if err := s.client.Set(ctx, s.key(key)+suspectSuffix, "1", 0).Err(); err != nil {
		return fmt.Errorf("ratelimit: mark suspicious %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) IsSuspicious(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)+suspectSuffix).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: suspicious check %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *redisStore) ClearSuspicion(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)+suspectSuffix, s.key(key)+violationSuffix).Err(); err != nil {
		return fmt.Errorf("ratelimit: clear suspicion %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
