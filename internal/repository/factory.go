package repository

import (
	"context"
	"fmt"

	"dmrelay/internal/config"
	"dmrelay/pkg/db"
	redisclient "dmrelay/pkg/redis"

	"go.uber.org/zap"
)

// NewStateRepository builds the backend named by cfg.Tracking.Backend. The
// returned close function releases its connections and is never nil.
func NewStateRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (StateRepository, func(), error) {
	switch cfg.Tracking.Backend {
	case config.BackendFile, "":
		return NewFileStateRepository(cfg.Tracking.StateDir, logger), func() {}, nil

	case config.BackendRedis:
		rdb, err := redisclient.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Redis connection established", zap.String("addr", cfg.Redis.Addr))
		repo := NewRedisStateRepository(rdb, cfg.Tracking.RedisKeyPrefix, logger)
		return repo, func() { _ = rdb.Close() }, nil

	case config.BackendPostgres:
		pool, err := db.NewConnection(ctx, cfg.DB, logger)
		if err != nil {
			return nil, nil, err
		}
		repo := NewPostgresStateRepository(pool, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown tracking backend %q", cfg.Tracking.Backend)
	}
}
