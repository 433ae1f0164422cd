package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"auth-session-core/internal/clock"
)

// StoreConfig selects and configures a limiter store driver.
type StoreConfig struct {
	// RedisAddr selects the Redis driver when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
}

// NewStore creates a limiter store from cfg: Redis when an address is set,
// otherwise the in-process store.
func NewStore(ctx context.Context, cfg StoreConfig, clk clock.Clock) (Store, error) {
	if cfg.RedisAddr == "" {
		return NewMemory(clk), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: redis ping: %w", err)
	}
	return NewRedis(client, cfg.Prefix), nil
}
