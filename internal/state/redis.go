package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCmd is the slice of the go-redis client the backend needs; tests
// substitute a fake built from redis.NewStringResult / redis.NewStatusResult.
type RedisCmd interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type RedisBackend struct {
	rdb RedisCmd
	key string
}

func NewRedis(rdb RedisCmd, key string) *RedisBackend {
	return &RedisBackend{rdb: rdb, key: key}
}

func (b *RedisBackend) Read(ctx context.Context) ([]byte, error) {
	data, err := b.rdb.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", b.key, err)
	}
	return data, nil
}

func (b *RedisBackend) Write(ctx context.Context, data []byte) error {
	if err := b.rdb.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", b.key, err)
	}
	return nil
}
