package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rolegate/pkg/platform/sentinel"
)

// RedisBackend keeps the document under a single string key.
type RedisBackend struct {
	client redis.Cmdable
	key    string
}

func NewRedisBackend(client redis.Cmdable, key string) *RedisBackend {
	return &RedisBackend{client: client, key: key}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Read(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("grant document %s: %w", b.key, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", b.key, err)
	}
	return data, nil
}

func (b *RedisBackend) Write(ctx context.Context, data []byte) error {
	if err := b.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", b.key, err)
	}
	return nil
}

func (b *RedisBackend) Quarantine(ctx context.Context, data []byte) (string, error) {
	key := fmt.Sprintf("%s:corrupt:%d", b.key, time.Now().Unix())
	if err := b.client.Set(ctx, key, data, 0).Err(); err != nil {
		return "", fmt.Errorf("redis set %s: %w", key, err)
	}
	return key, nil
}
