package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chatbridge:seen:"

// RedisWindow is a Window shared across instances through Redis SET NX.
type RedisWindow struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisWindow connects to redisURL and verifies the connection.
func NewRedisWindow(ctx context.Context, redisURL string, ttl time.Duration) (*RedisWindow, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisWindow{client: client, ttl: ttl}, nil
}

func (w *RedisWindow) Seen(ctx context.Context, key string) (bool, error) {
	fresh, err := w.client.SetNX(ctx, keyPrefix+key, 1, w.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("marking %s: %w", key, err)
	}
	return !fresh, nil
}

func (w *RedisWindow) Forget(ctx context.Context, key string) error {
	if err := w.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("forgetting %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (w *RedisWindow) Close() error {
	return w.client.Close()
}
