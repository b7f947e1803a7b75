// Package cache keeps the last seen price of every product so that price
// changes can be detected across runs.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheUnavailable wraps every failure of the backing store.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Cache is a JSON value store with per-key expiry.
type Cache interface {
	// Get decodes the value stored under key into dest. found is false for
	// missing or expired keys.
	Get(ctx context.Context, key string, dest any) (found bool, err error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key owned by this cache.
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}

type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Keys   int64 `json:"keys"`
}
