package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"auth-session-core/internal/authcore"
	"auth-session-core/internal/clock"
	"auth-session-core/internal/config"
	"auth-session-core/internal/db"
	"auth-session-core/internal/event"
	eventrepo "auth-session-core/internal/event/repository"
	"auth-session-core/internal/lockout"
	lockoutrepo "auth-session-core/internal/lockout/repository"
	"auth-session-core/internal/ratelimit"
	"auth-session-core/internal/security"
	sessionrepo "auth-session-core/internal/session/repository"
	"auth-session-core/internal/session/service"
	"auth-session-core/internal/token"
	"auth-session-core/internal/token/revocation"
	httpapi "auth-session-core/internal/transport/http"
	"auth-session-core/internal/userdir"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
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
	provider := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience)

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

	limitStore, err := ratelimit.NewStore(ctx, ratelimit.StoreConfig{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	}, clk)
	if err != nil {
		logger.Fatal("rate limit store", zap.Error(err))
	}
	defer func() { _ = limitStore.Close() }()

	recorder := event.NewRecorder(eventrepo.NewPostgresRepository(pool), clk, logger)
	tokens := token.NewService(provider, revocations, clk, cfg.AccessTTL(), cfg.RefreshTTL())
	dir := userdir.NewPostgresDirectory(pool)
	sessions := service.NewManager(
		sessionrepo.NewPostgresRepository(pool),
		tokens, recorder, dir, hasher, clk,
		cfg.MaxConcurrentSessions, cfg.InvalidateOnSuspicious,
	)
	lockouts := lockout.NewService(
		lockoutrepo.NewPostgresRepository(pool),
		recorder, sessions, clk,
		cfg.MaxFailedAttempts, cfg.FailureWindow(),
		lockout.DefaultEscalation(cfg.LockoutBase(), 24*time.Hour),
	)
	// Config lists raw addresses; the limiter keys by ratelimit.IPKey.
	allowKeys := make([]string, 0, len(cfg.Allowlist()))
	for _, ip := range cfg.Allowlist() {
		allowKeys = append(allowKeys, ratelimit.IPKey(ip))
	}
	limiter := ratelimit.NewLimiter(
		limitStore, recorder,
		cfg.RateWindow(), int64(cfg.RateLimitMax),
		int64(cfg.SuspicionThreshold), 0, allowKeys,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer := authcore.NewObserver(logger, authcore.NewMetrics(reg), nil)

	core := authcore.New(sessions, lockouts, limiter, recorder, observer, cfg.ExposeLockoutState)
	api := httpapi.NewServer(
		core,
		userdir.NewPostgresCredentialChecker(pool),
		dir, hasher, logger,
		cfg.RefreshTTL(), cfg.Env == "production",
	)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Router(reg, pool.Ping),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("http server stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
