package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	clts "insiderwatch/clients"
	"insiderwatch/config"
	"insiderwatch/internal/app"
	"insiderwatch/internal/cache"
	"insiderwatch/internal/store"
)

const (
	// pingTimeout bounds the startup check against Redis
	pingTimeout = 10 * time.Second
)

func main() {
	// Load config from environment variables (and .env when present)
	envConfig := config.Load()

	logger, err := newLogger(envConfig.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting insiderwatch", zap.Bool("isProd", envConfig.IsProd))

	if result := envConfig.Validate(); !result.Valid {
		for _, e := range result.Errors {
			logger.Error("invalid config", zap.String("field", e.Field), zap.String("message", e.Message))
		}
		logger.Fatal("config validation failed", zap.Int("errors", len(result.Errors)))
	}

	liveConfig := config.NewLiveConfig(envConfig)

	backend, closeBackend, err := newCacheBackend(logger, envConfig)
	if err != nil {
		logger.Fatal("failed to initialize cache", zap.Error(err))
	}
	defer closeBackend()

	st, err := store.Open(logger, store.Options{
		Driver:      envConfig.Store.Driver,
		DSN:         envConfig.Store.DSN,
		DedupWindow: envConfig.Alerts.DedupWindow,
	})
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, envConfig)
	defer clients.Close()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, liveConfig, st, backend)
	if err := runner.Run(ctx); err != nil {
		logger.Error("runner failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newCacheBackend returns the configured cache backend and a func that
// releases it.
func newCacheBackend(logger *zap.Logger, cfg *config.Config) (cache.Backend, func(), error) {
	if cfg.Cache.Backend != "redis" {
		logger.Info("using in-memory cache")
		return cache.NewMemory(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	backend := cache.NewRedis(client, cfg.Redis.Prefix)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := backend.Ping(ctx); err != nil {
		_ = backend.Close()
		return nil, nil, err
	}

	logger.Info("using redis cache", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
	return backend, func() { _ = backend.Close() }, nil
}
