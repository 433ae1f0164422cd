package revocation

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"auth-session-core/internal/clock"
)

// Config selects and configures a revocation store driver.
type Config struct {
	// RedisAddr selects the Redis driver when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
}

// New creates a revocation store from cfg: Redis when an address is set,
// otherwise the in-process store.
func New(ctx context.Context, cfg Config, clk clock.Clock) (Store, error) {
	if cfg.RedisAddr == "" {
		return NewMemory(clk), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("revocation: redis ping: %w", err)
	}
	return NewRedis(client, cfg.Prefix), nil
}
