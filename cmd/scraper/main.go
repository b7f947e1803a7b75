package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maltedev/stall-scraper/internal/app"
	"github.com/maltedev/stall-scraper/internal/config"
	"github.com/maltedev/stall-scraper/internal/logging"
	"github.com/maltedev/stall-scraper/internal/scraper"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to a YAML config file")
		startURL   = flag.String("url", "", "First listing page to crawl (overrides SCRAPER_START_URL)")
		maxPages   = flag.Int("max-pages", 0, "Maximum number of listing pages (overrides SCRAPER_MAX_PAGES)")
		interval   = flag.Duration("interval", 0, "Re-run the crawl at this interval and serve /health and /metrics")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *startURL != "" {
		cfg.Scraper.StartURL = *startURL
	}
	if *maxPages > 0 {
		cfg.Scraper.MaxPages = *maxPages
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	svc, err := a.NewService()
	if err != nil {
		logger.Error("failed to create scraper service", "error", err)
		os.Exit(1)
	}

	if *interval <= 0 {
		if _, err := svc.Run(ctx, scraper.Request{}); err != nil {
			logger.Error("crawl failed", "error", err)
			a.Close()
			os.Exit(1)
		}
		return
	}

	watch(ctx, svc, cfg, *interval, logger)
}

// lastRun is what /health reports about the most recent crawl.
type lastRun struct {
	RunID      string    `json:"run_id"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Products   int       `json:"products"`
	Error      string    `json:"error,omitempty"`
}

func watch(ctx context.Context, svc *scraper.Service, cfg *config.Config, interval time.Duration, logger *slog.Logger) {
	var last atomic.Pointer[lastRun]

	server := &http.Server{
		Addr:         cfg.Server.OpsAddr,
		Handler:      opsRouter(&last),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("ops server starting", "addr", cfg.Server.OpsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", "error", err)
		}
	}()

	run := func() {
		summary, err := svc.Run(ctx, scraper.Request{})
		r := &lastRun{FinishedAt: time.Now()}
		if err != nil {
			logger.Error("crawl failed", "error", err)
			r.Outcome = "failed"
			r.Error = err.Error()
		} else {
			r.RunID = summary.RunID
			r.Outcome = summary.Outcome.String()
			r.Products = summary.MergedCount
		}
		last.Store(r)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("watch mode started", "interval", interval)
	run()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown failed", "error", err)
			}
			return
		case <-ticker.C:
			run()
		}
	}
}

func opsRouter(last *atomic.Pointer[lastRun]) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status": "ok",
		}
		status := http.StatusOK
		if l := last.Load(); l != nil {
			health["last_run"] = l
			if l.Outcome == "failed" {
				health["status"] = "error"
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(health)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
