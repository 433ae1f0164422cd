// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for sessions, lockout records, and security events.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis address for the revocation set and rate-limit windows.
	// Empty selects the in-process stores (dev and tests only).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis database number.
	RedisDB int `mapstructure:"REDIS_DB"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim; required.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim; required.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// TokenHashKey keys the token hash used for stored refresh-token and
	// anti-forgery hashes. Must be non-empty in production.
	TokenHashKey string `mapstructure:"TOKEN_HASH_KEY"`

	// MaxConcurrentSessions caps active sessions per user; the least-recently-active
	// session is evicted when the cap is reached.
	MaxConcurrentSessions int `mapstructure:"MAX_CONCURRENT_SESSIONS"`
	// MaxFailedAttempts is the failure count that locks an account.
	MaxFailedAttempts int `mapstructure:"MAX_FAILED_ATTEMPTS"`
	// LockoutDuration is the base lock duration (e.g. "15m"); escalates on repeat lockouts.
	LockoutDuration string `mapstructure:"LOCKOUT_DURATION"`
	// LockoutWindow is the rolling window over which failures are counted (e.g. "15m").
	LockoutWindow string `mapstructure:"LOCKOUT_WINDOW"`
	// RateLimitWindow is the fixed rate-limit window (e.g. "1m").
	RateLimitWindow string `mapstructure:"RATE_LIMIT_WINDOW"`
	// RateLimitMax is the number of requests allowed per key per window.
	RateLimitMax int `mapstructure:"RATE_LIMIT_MAX"`
	// SuspicionThreshold is the violation count that flags a key suspicious.
	SuspicionThreshold int `mapstructure:"SUSPICION_THRESHOLD"`
	// RateLimitAllowlist is a comma-separated list of client IPs exempt from rate limiting.
	RateLimitAllowlist string `mapstructure:"RATE_LIMIT_ALLOWLIST"`

	// InvalidateOnSuspicious controls whether a SUSPICIOUS_LOGIN security event
	// invalidates the user's sessions; default false (log only).
	InvalidateOnSuspicious bool `mapstructure:"SESSION_INVALIDATE_ON_SUSPICIOUS"`
	// ExposeLockoutState controls whether callers see AccountLocked distinctly
	// from invalid credentials. Revealing lockout confirms account existence.
	ExposeLockoutState bool `mapstructure:"EXPOSE_LOCKOUT_STATE"`

	// SessionCleanupInterval is how often the worker sweeps expired sessions (e.g. "5m").
	SessionCleanupInterval string `mapstructure:"SESSION_CLEANUP_INTERVAL"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_ISSUER", "auth-core")
	v.SetDefault("JWT_AUDIENCE", "auth-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("TOKEN_HASH_KEY", "")
	v.SetDefault("MAX_CONCURRENT_SESSIONS", 5)
	v.SetDefault("MAX_FAILED_ATTEMPTS", 5)
	v.SetDefault("LOCKOUT_DURATION", "15m")
	v.SetDefault("LOCKOUT_WINDOW", "15m")
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("RATE_LIMIT_MAX", 60)
	v.SetDefault("SUSPICION_THRESHOLD", 5)
	v.SetDefault("RATE_LIMIT_ALLOWLIST", "")
	v.SetDefault("SESSION_INVALIDATE_ON_SUSPICIOUS", false)
	v.SetDefault("EXPOSE_LOCKOUT_STATE", true)
	v.SetDefault("SESSION_CLEANUP_INTERVAL", "5m")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.MaxConcurrentSessions < 1 {
		return nil, errors.New("config: MAX_CONCURRENT_SESSIONS must be at least 1")
	}
	if cfg.MaxFailedAttempts < 1 {
		return nil, errors.New("config: MAX_FAILED_ATTEMPTS must be at least 1")
	}
	if cfg.RateLimitMax < 1 {
		return nil, errors.New("config: RATE_LIMIT_MAX must be at least 1")
	}
	if cfg.SuspicionThreshold < 1 {
		return nil, errors.New("config: SUSPICION_THRESHOLD must be at least 1")
	}
	if cfg.Env == "production" && cfg.TokenHashKey == "" {
		return nil, errors.New("config: TOKEN_HASH_KEY must be set when APP_ENV=production")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return durationOr(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return durationOr(c.JWTRefreshTTL, 168*time.Hour)
}

// LockoutBase parses LockoutDuration. Returns 15m if unset or invalid.
func (c *Config) LockoutBase() time.Duration {
	return durationOr(c.LockoutDuration, 15*time.Minute)
}

// FailureWindow parses LockoutWindow. Returns 15m if unset or invalid.
func (c *Config) FailureWindow() time.Duration {
	return durationOr(c.LockoutWindow, 15*time.Minute)
}

// RateWindow parses RateLimitWindow. Returns 1m if unset or invalid.
func (c *Config) RateWindow() time.Duration {
	return durationOr(c.RateLimitWindow, time.Minute)
}

// CleanupInterval parses SessionCleanupInterval. Returns 5m if unset or invalid.
func (c *Config) CleanupInterval() time.Duration {
	return durationOr(c.SessionCleanupInterval, 5*time.Minute)
}

// Allowlist splits RateLimitAllowlist into trimmed, non-empty addresses.
func (c *Config) Allowlist() []string {
	if strings.TrimSpace(c.RateLimitAllowlist) == "" {
		return nil
	}
	parts := strings.Split(c.RateLimitAllowlist, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
