package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultRedisKeyPrefix = "dmrelay:state"

// RedisStateRepository stores each document as a plain string key.
type RedisStateRepository struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisStateRepository(rdb *redis.Client, prefix string, logger *zap.Logger) *RedisStateRepository {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisStateRepository{
		rdb:    rdb,
		prefix: prefix,
		logger: logger,
	}
}

// Key formats the redis key for doc.
func (r *RedisStateRepository) Key(doc string) string {
	return fmt.Sprintf("%s:%s", r.prefix, doc)
}

func (r *RedisStateRepository) Load(ctx context.Context, doc string) ([]byte, error) {
	data, err := r.rdb.Get(ctx, r.Key(doc)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from redis: %w", doc, err)
	}
	return data, nil
}

// Save overwrites the key in a single SET, which redis applies atomically.
func (r *RedisStateRepository) Save(ctx context.Context, doc string, data []byte) error {
	if err := r.rdb.Set(ctx, r.Key(doc), data, 0).Err(); err != nil {
		r.logger.Warn("Redis state save failed",
			zap.String("doc", doc),
			zap.Error(err),
		)
		return fmt.Errorf("failed to set %s in redis: %w", doc, err)
	}
	return nil
}
