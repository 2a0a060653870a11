package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fueldesk/backend/internal/cache"
	"fueldesk/backend/internal/config"
	"fueldesk/backend/internal/httpapi"
	"fueldesk/backend/internal/logging"
	"fueldesk/backend/internal/metrics"
	"fueldesk/backend/internal/service"
	"fueldesk/backend/internal/store"
	"fueldesk/backend/internal/store/memory"
	mongostore "fueldesk/backend/internal/store/mongodb"
	pgstore "fueldesk/backend/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()

	logger, err := logging.New(logging.Config{
		ServiceName: "fueldesk",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("invalid ledger timezone", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("repository unavailable; refusing to start with in-memory fallback",
			zap.String("backend", cfg.Backend()), zap.Error(err))
	}

	statsCache := cache.StatsCache(cache.NoopStatsCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStatsCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", zap.Error(err))
		} else {
			statsCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("cache: noop")
	}

	m := metrics.New("fueldesk")
	svc := service.New(repo, service.Options{
		Cache:    statsCache,
		CacheTTL: cfg.StatsCacheTTL(),
		Metrics:  m,
		Location: loc,
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.SessionTTL(), repo)
	if cfg.SeedAdminEmail != "" && cfg.SeedAdminPassword != "" {
		created, err := auth.EnsureAdmin(ctx, cfg.SeedAdminEmail, cfg.SeedAdminPassword)
		if err != nil {
			logger.Fatal("seed admin failed", zap.Error(err))
		}
		if created {
			logger.Info("seeded admin account", zap.String("email", cfg.SeedAdminEmail))
		}
	}
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		CookieSecure:  cfg.CookieSecure,
		Backend:       cfg.Backend(),
		Metrics:       m,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("fuel desk backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// openRepository connects to MongoDB when MONGODB_URI is set, otherwise to
// Postgres when DATABASE_URL is set, and falls back to the seeded in-memory
// store when neither is configured.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, []func() error, error) {
	switch cfg.Backend() {
	case "mongodb":
		mg, err := mongostore.New(ctx, mongostore.Config{
			URI:          cfg.MongoURI,
			Database:     cfg.MongoDatabase,
			Transactions: cfg.MongoTransactions,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("repository: mongodb",
			zap.String("database", cfg.MongoDatabase), zap.Bool("transactions", cfg.MongoTransactions))
		return mg, []func() error{mg.Close}, nil
	case "postgres":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	default:
		logger.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.Environment == "production" && !cfg.CookieSecure {
		return fmt.Errorf("COOKIE_SECURE must not be disabled in production")
	}
	if cfg.SeedAdminPassword != "" && len(cfg.SeedAdminPassword) < 8 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least 8 characters")
	}
	return nil
}
