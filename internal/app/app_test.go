package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/stall-scraper/internal/cache"
	"github.com/maltedev/stall-scraper/internal/config"
	"github.com/maltedev/stall-scraper/internal/models"
	"github.com/maltedev/stall-scraper/internal/notify"
	"github.com/maltedev/stall-scraper/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Defaults()
	cfg.Cache.Type = "memory"
	cfg.Storage.Dir = t.TempDir()
	cfg.Scraper.PageDelayMax = cfg.Scraper.PageDelay
	return cfg
}

func TestOpen_MemoryAndJSON(t *testing.T) {
	a, err := Open(context.Background(), testConfig(t), slog.Default())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &cache.MemoryCache{}, a.Cache)
	assert.IsType(t, &storage.JSONStore{}, a.Store)
	assert.Len(t, a.Notifier, 1)

	svc, err := a.NewService()
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestOpen_SQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "sqlite"

	a, err := Open(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	_, err = a.Catalog.MergeAndPersist(ctx, []models.Product{{
		Title: "Chair", Price: 10, ImageURL: "https://shop.example/chair.jpg", Slug: "chair",
	}})
	require.NoError(t, err)

	products, err := a.Catalog.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "chair", products[0].Slug)
}

func TestOpen_StreamNotifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.Stream = "catalog-events"

	a, err := Open(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer a.Close()

	multi, ok := a.Notifier.(notify.Multi)
	require.True(t, ok)
	require.Len(t, multi, 2)
	assert.IsType(t, &notify.StreamNotifier{}, multi[1])
}

func TestOpen_UnknownStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "csv"

	_, err := Open(context.Background(), cfg, slog.Default())
	assert.ErrorContains(t, err, "unknown storage type")
}
