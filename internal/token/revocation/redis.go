package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "auth:revoked:"

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a Store backed by the given Redis client. Each revoked jti
// is a key with TTL equal to the token's remaining lifetime, so memory stays
// bounded without a sweeper.
func NewRedis(client *redis.Client, prefix string) Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) key(jti string) string { return s.prefix + jti }

func (s *redisStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// Token already past expiry; verification rejects it regardless.
		return nil
	}
	if err := s.client.Set(ctx, s.key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revocation: set %s: %w", jti, err)
	}
	return nil
}

func (s *redisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("revocation: exists %s: %w", jti, err)
	}
	return n > 0, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
