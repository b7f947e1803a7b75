// Package app wires configuration into the cache, catalog store, notifiers
// and scraper service shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/stall-scraper/internal/browser"
	"github.com/maltedev/stall-scraper/internal/cache"
	"github.com/maltedev/stall-scraper/internal/config"
	"github.com/maltedev/stall-scraper/internal/database"
	"github.com/maltedev/stall-scraper/internal/fetcher"
	"github.com/maltedev/stall-scraper/internal/notify"
	"github.com/maltedev/stall-scraper/internal/parser"
	"github.com/maltedev/stall-scraper/internal/ratelimit"
	"github.com/maltedev/stall-scraper/internal/scraper"
	"github.com/maltedev/stall-scraper/internal/storage"
)

type App struct {
	Config   *config.Config
	Cache    cache.Cache
	Store    storage.Store
	Catalog  *storage.Catalog
	Notifier notify.Notifier

	redis   *redis.Client
	closers []func() error
	logger  *slog.Logger
}

// Open connects the cache and the catalog store selected by cfg. A Redis
// server that does not answer is logged but kept: every run then reports a
// degraded cache until it comes back.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		logger: logger,
	}

	if err := a.openCache(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.Catalog = storage.NewCatalog(a.Store, logger)

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.Notify.Stream != "" {
		if a.redis == nil {
			a.redis = a.newRedisClient()
			a.closers = append(a.closers, a.redis.Close)
		}
		notifiers = append(notifiers, notify.NewStreamNotifier(a.redis, cfg.Notify.Stream, logger))
	}
	a.Notifier = notifiers

	return a, nil
}

func (a *App) newRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     a.Config.Cache.RedisAddr,
		Password: a.Config.Cache.RedisPassword,
		DB:       a.Config.Cache.RedisDB,
	})
}

func (a *App) openCache(ctx context.Context) error {
	switch a.Config.Cache.Type {
	case "memory":
		a.Cache = cache.NewMemoryCache()
	case "redis":
		a.redis = a.newRedisClient()
		a.closers = append(a.closers, a.redis.Close)

		rc := cache.NewRedisCache(a.redis, a.Config.Cache.KeyPrefix)
		if err := rc.Ping(ctx); err != nil {
			a.logger.WarnContext(ctx, "redis not reachable, price tracking will be degraded",
				"addr", a.Config.Cache.RedisAddr,
				"error", err)
		}
		a.Cache = rc
	default:
		return fmt.Errorf("unknown cache type %q", a.Config.Cache.Type)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	sc := a.Config.Storage
	switch sc.Type {
	case "json":
		a.Store = storage.NewJSONStore(sc.Dir, sc.Pretty)

	case "sqlite":
		path := sc.SQLitePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(sc.Dir, path)
		}
		s, err := storage.NewSQLiteStore(path)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.Store = s

	case "postgres":
		dc := a.Config.Database
		db, err := database.New(ctx, database.Config{
			URL:      dc.URL,
			Host:     dc.Host,
			Port:     dc.Port,
			User:     dc.User,
			Password: dc.Password,
			Database: dc.DBName,
			SSLMode:  dc.SSLMode,
			MaxConns: int32(dc.MaxConns),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })

		s, err := storage.NewPostgresStore(ctx, db)
		if err != nil {
			return err
		}
		a.Store = s

	default:
		return fmt.Errorf("unknown storage type %q", sc.Type)
	}
	return nil
}

// NewService builds the scraper service. In browser fetch mode it also
// launches Chromium, which is closed with the App.
func (a *App) NewService() (*scraper.Service, error) {
	sc := a.Config.Scraper

	retries := sc.MaxRetries
	retryDelay := sc.RetryDelay

	cfg := scraper.ServiceConfig{
		Extractor: parser.NewCatalogParser(sc.Selectors),
		Tracker:   cache.NewPriceTracker(a.Cache, a.Config.Cache.PriceTTL, a.logger),
		Catalog:   a.Catalog,
		Notifier:  a.Notifier,
		Limiter:   ratelimit.NewPacer(sc.PageDelay, sc.PageDelayMax),
		FetcherOptions: []fetcher.Option{
			fetcher.WithTimeout(sc.Timeout),
			fetcher.WithUserAgent(sc.UserAgent),
		},
		ImageWorkers: sc.ImageWorkers,
		Defaults: scraper.Request{
			StartURL:   sc.StartURL,
			MaxPages:   sc.MaxPages,
			Proxy:      sc.Proxy,
			MaxRetries: &retries,
			RetryDelay: &retryDelay,
			ImageDir:   sc.ImageDir,
		},
		Logger: a.logger,
	}

	if sc.FetchMode == "browser" {
		opts := browser.DefaultOptions()
		opts.Headless = a.Config.Browser.Headless
		opts.Timeout = a.Config.Browser.Timeout
		opts.ViewportWidth = a.Config.Browser.ViewportWidth
		opts.ViewportHeight = a.Config.Browser.ViewportHeight
		opts.Locale = a.Config.Browser.Locale
		opts.ProxyServer = sc.Proxy
		opts.MaxRetries = sc.MaxRetries
		opts.RetryDelay = sc.RetryDelay
		if sc.UserAgent != "" {
			opts.UserAgent = sc.UserAgent
		}

		b, err := browser.New(opts, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize browser: %w", err)
		}
		a.closers = append(a.closers, b.Close)
		cfg.Pages = b
	}

	return scraper.NewService(cfg), nil
}

// Close releases everything opened by Open and NewService, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
