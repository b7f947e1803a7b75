package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of the Redis client used by RedisCache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	ScanType(ctx context.Context, cursor uint64, match string, count int64, keyType string) *redis.ScanCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisCache stores values as JSON strings. Keys are used as given unless a
// prefix is configured, in which case Clear and Stats only touch keys under it.
type RedisCache struct {
	client RedisClient
	prefix string
	hits   atomic.Int64
	misses atomic.Int64
}

func NewRedisCache(client RedisClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %w", ErrCacheUnavailable, key, err)
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("%w: decode %s: %w", ErrCacheUnavailable, key, err)
	}
	c.hits.Add(1)
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, string(data), ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrCacheUnavailable, key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrCacheUnavailable, key, err)
	}
	return nil
}

func (c *RedisCache) Clear(ctx context.Context) error {
	return c.scan(ctx, func(keys []string) error {
		return c.client.Del(ctx, keys...).Err()
	})
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	var keys int64
	err := c.scan(ctx, func(batch []string) error {
		keys += int64(len(batch))
		return nil
	})
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Keys: keys}, err
}

// priceKeyType is the Redis type of every value this cache writes. Scanning
// only this type keeps Clear and Stats away from streams and other
// structures sharing the database, such as the notification stream.
const priceKeyType = "string"

// scan walks every string key under the prefix in batches.
func (c *RedisCache) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.client.ScanType(ctx, cursor, c.prefix+"*", 500, priceKeyType).Result()
		if err != nil {
			return fmt.Errorf("%w: scan: %w", ErrCacheUnavailable, err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
