package cache

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/stall-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingCache fails reads for the configured keys.
type failingCache struct {
	*MemoryCache
	failGet map[string]bool
}

func (f *failingCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if f.failGet[key] {
		return false, errors.Join(ErrCacheUnavailable, errors.New("connection reset"))
	}
	return f.MemoryCache.Get(ctx, key, dest)
}

func product(slug string, price float64) models.Product {
	return models.Product{Title: slug, Slug: slug, Price: price, ImageURL: "https://x/" + slug + ".jpg"}
}

func TestDetectAndRecord_NewThenUnchanged(t *testing.T) {
	ctx := context.Background()
	tracker := NewPriceTracker(NewMemoryCache(), time.Hour, slog.Default())

	first := tracker.DetectAndRecord(ctx, []models.Product{product("chair", 100)})
	assert.Equal(t, 1, first.New)
	assert.Empty(t, first.Changes)
	assert.Equal(t, models.OutcomeSucceeded, first.Outcome)

	second := tracker.DetectAndRecord(ctx, []models.Product{product("chair", 100)})
	assert.Equal(t, 1, second.Unchanged)
	assert.Zero(t, second.New)
	assert.Empty(t, second.Changes)
}

func TestDetectAndRecord_Change(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	tracker := NewPriceTracker(c, time.Hour, slog.Default())

	tracker.DetectAndRecord(ctx, []models.Product{product("chair", 100)})
	result := tracker.DetectAndRecord(ctx, []models.Product{product("chair", 150)})

	require.Len(t, result.Changes, 1)
	change := result.Changes[0]
	assert.Equal(t, "chair", change.Slug)
	assert.Equal(t, 100.0, change.OldPrice)
	assert.Equal(t, 150.0, change.NewPrice)
	assert.Equal(t, 50.0, change.ChangePercent)

	var stored float64
	found, err := c.Get(ctx, "chair", &stored)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 150.0, stored)
}

func TestDetectAndRecord_ExpiredEntryIsNew(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	tracker := NewPriceTracker(c, time.Hour, slog.Default())

	tracker.DetectAndRecord(ctx, []models.Product{product("chair", 100)})

	now = now.Add(time.Hour + time.Second)
	result := tracker.DetectAndRecord(ctx, []models.Product{product("chair", 120)})
	assert.Equal(t, 1, result.New)
	assert.Empty(t, result.Changes)
}

func TestDetectAndRecord_UnchangedRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	tracker := NewPriceTracker(c, time.Hour, slog.Default())

	tracker.DetectAndRecord(ctx, []models.Product{product("chair", 100)})
	now = now.Add(50 * time.Minute)
	tracker.DetectAndRecord(ctx, []models.Product{product("chair", 100)})
	now = now.Add(50 * time.Minute)

	result := tracker.DetectAndRecord(ctx, []models.Product{product("chair", 90)})
	require.Len(t, result.Changes, 1)
	assert.Equal(t, -10.0, result.Changes[0].ChangePercent)
}

func TestDetectAndRecord_SkipsUnusableRecords(t *testing.T) {
	ctx := context.Background()
	tracker := NewPriceTracker(NewMemoryCache(), time.Hour, slog.Default())

	unparsed := product("mystery", 0)
	unparsed.PriceUnparsed = true

	result := tracker.DetectAndRecord(ctx, []models.Product{product("", 5), unparsed})
	assert.Equal(t, 2, result.Skipped)
	assert.Zero(t, result.New)
	assert.Equal(t, models.OutcomeSucceeded, result.Outcome)
}

func TestDetectAndRecord_CacheErrorDegrades(t *testing.T) {
	ctx := context.Background()
	c := &failingCache{MemoryCache: NewMemoryCache(), failGet: map[string]bool{"broken": true}}
	tracker := NewPriceTracker(c, time.Hour, slog.Default())

	result := tracker.DetectAndRecord(ctx, []models.Product{product("broken", 10), product("fine", 20)})

	assert.Equal(t, models.OutcomeDegraded, result.Outcome)
	assert.ErrorIs(t, result.Err, ErrCacheUnavailable)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.New, "later products are still processed")

	found, err := c.MemoryCache.Get(ctx, "broken", new(float64))
	require.NoError(t, err)
	assert.False(t, found, "no write after a failed read")
}
