package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// URLCache remembers signed URLs so reads do not presign on every request.
type URLCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, url string, ttl time.Duration) error
}

// RedisURLCache stores URLs as plain string keys with expiry.
type RedisURLCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisURLCache returns a cache writing keys under prefix.
func NewRedisURLCache(client redis.UniversalClient, prefix string) *RedisURLCache {
	if prefix == "" {
		prefix = "wallpapers:signed-url:"
	}
	return &RedisURLCache{client: client, prefix: prefix}
}

// Get returns the cached URL, if any.
func (c *RedisURLCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores url for ttl.
func (c *RedisURLCache) Set(ctx context.Context, key, url string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.prefix+key, url, ttl).Err()
}
