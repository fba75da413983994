package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"payboard/backend/internal/cache"
	"payboard/backend/internal/config"
	"payboard/backend/internal/httpapi"
	"payboard/backend/internal/logging"
	"payboard/backend/internal/service"
	"payboard/backend/internal/store"
	"payboard/backend/internal/store/memory"
	pgstore "payboard/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	loc := resolveLocation(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	backend, err := openBackend(ctx, cfg, loc, logger)
	if err != nil {
		logger.Fatal("repository unavailable", zap.Error(err))
	}
	closers := []func() error{backend.Close}

	queryCache := cache.QueryCache(cache.NewMemoryQueryCache())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisQueryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-process query cache", zap.Error(err))
		} else {
			queryCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("query cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("query cache: in-process")
	}

	svc := service.New(backend, queryCache, service.Options{
		Location:              loc,
		CacheTTL:              time.Duration(cfg.QueryCacheTTLSeconds) * time.Second,
		NotificationRetention: cfg.NotificationRetention(),
		LegacyPixFallback:     cfg.LegacyPixFallback,
	}, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, backend, logger)
	api := httpapi.New(svc, auth, httpapi.Config{
		AllowedOrigin: cfg.AllowedOrigin,
		Feed:          backend,
		Notifications: backend,
		Logger:        logger,
	})

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go svc.RunCleanup(runCtx, time.Duration(cfg.CleanupIntervalMinutes)*time.Minute)

	// WriteTimeout covers CSV exports; the notification stream clears its own
	// write deadline.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("payboard backend listening", zap.String("addr", cfg.Address()), zap.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopRun()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// openBackend prefers postgres when DATABASE_URL is set and refuses to fall
// back to memory in that case, so a misconfigured deploy fails loudly.
func openBackend(ctx context.Context, cfg config.Config, loc *time.Location, logger *zap.Logger) (store.Backend, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("repository: in-memory")
		return memory.NewSeeded(logger, loc), nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL, logger, loc)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if cfg.RunMigrations {
		if err := pg.Migrate(); err != nil {
			_ = pg.Close()
			return nil, err
		}
	}
	logger.Info("repository: postgres")
	return pg, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "" {
		return fmt.Errorf("ALLOWED_ORIGIN must not be empty")
	}
	return nil
}

// resolveLocation keeps serving with the fixed UTC-3 zone when TIMEZONE
// cannot be loaded, e.g. an image without tzdata.
func resolveLocation(cfg config.Config, logger *zap.Logger) *time.Location {
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		logger.Warn("timezone unavailable, using fixed UTC-3", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}
	return cfg.Location()
}
