package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/joseph-ayodele/docparse/internal/common"
)

// Open connects to Redis and pings it once so a bad address fails at startup.
func Open(ctx context.Context, cfg common.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to redis", "addr", cfg.Addr, "db", cfg.DB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		logger.Error("failed to connect to redis", "addr", cfg.Addr, "error", err)
		return nil, fmt.Errorf("%w: ping %s: %w", common.ErrStore, cfg.Addr, err)
	}

	logger.Info("successfully connected to redis")
	return rdb, nil
}

// Close closes the client and logs any error.
func Close(rdb *redis.Client, logger *slog.Logger) {
	if rdb == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := rdb.Close(); err != nil {
		logger.Error("failed to close redis client", "error", err)
		return
	}
	logger.Info("redis connection closed")
}
