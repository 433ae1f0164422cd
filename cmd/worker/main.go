// Worker periodically sweeps expired sessions. It shares the server's config;
// set SESSION_CLEANUP_INTERVAL to tune the cadence.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"auth-session-core/internal/clock"
	"auth-session-core/internal/config"
	"auth-session-core/internal/db"
	"auth-session-core/internal/event"
	eventrepo "auth-session-core/internal/event/repository"
	"auth-session-core/internal/security"
	sessionrepo "auth-session-core/internal/session/repository"
	"auth-session-core/internal/session/service"
	"auth-session-core/internal/token"
	"auth-session-core/internal/token/revocation"
	"auth-session-core/internal/userdir"
)

const cleanupBatchSize = 500

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	signer, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		logger.Fatal("jwt private key", zap.Error(err))
	}
	pub, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		logger.Fatal("jwt public key", zap.Error(err))
	}
	hasher, err := security.NewTokenHasher([]byte(cfg.TokenHashKey))
	if err != nil {
		logger.Fatal("token hash key", zap.Error(err))
	}

	clk := clock.System{}
	revocations, err := revocation.New(ctx, revocation.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	}, clk)
	if err != nil {
		logger.Fatal("revocation store", zap.Error(err))
	}
	defer func() { _ = revocations.Close() }()

	recorder := event.NewRecorder(eventrepo.NewPostgresRepository(pool), clk, logger)
	tokens := token.NewService(
		security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience),
		revocations, clk, cfg.AccessTTL(), cfg.RefreshTTL(),
	)
	sessions := service.NewManager(
		sessionrepo.NewPostgresRepository(pool),
		tokens, recorder, userdir.NewPostgresDirectory(pool), hasher, clk,
		cfg.MaxConcurrentSessions, cfg.InvalidateOnSuspicious,
	)

	interval := cfg.CleanupInterval()
	logger.Info("session cleanup worker started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return
		case <-ticker.C:
			n, err := sessions.CleanupExpiredSessions(ctx, cleanupBatchSize)
			if err != nil {
				logger.Error("cleanup sweep failed", zap.Int64("deleted", n), zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("cleanup sweep", zap.Int64("deleted", n))
			}
		}
	}
}
