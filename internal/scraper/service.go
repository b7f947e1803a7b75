package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/stall-scraper/internal/cache"
	"github.com/maltedev/stall-scraper/internal/fetcher"
	"github.com/maltedev/stall-scraper/internal/images"
	"github.com/maltedev/stall-scraper/internal/metrics"
	"github.com/maltedev/stall-scraper/internal/models"
	"github.com/maltedev/stall-scraper/internal/notify"
	"github.com/maltedev/stall-scraper/internal/parser"
	"github.com/maltedev/stall-scraper/internal/ratelimit"
	"github.com/maltedev/stall-scraper/internal/storage"
)

// ServiceConfig wires the collaborators of a Service.
type ServiceConfig struct {
	Extractor parser.Extractor
	// Tracker may be nil, in which case price changes are not detected.
	Tracker  *cache.PriceTracker
	Catalog  *storage.Catalog
	Notifier notify.Notifier
	// Limiter paces listing pages. Defaults to a fixed one second delay.
	Limiter ratelimit.RateLimiter
	// Pages, when set, fetches listing pages instead of the HTTP fetcher
	// built per request. Images are always fetched over HTTP.
	Pages PageFetcher
	// FetcherOptions apply to every HTTP fetcher before request options.
	FetcherOptions []fetcher.Option
	ImageWorkers   int
	Defaults       Request
	Logger         *slog.Logger
}

// Service runs complete crawls: traverse, track prices, merge, notify.
type Service struct {
	cfg    ServiceConfig
	logger *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Extractor == nil {
		cfg.Extractor = parser.NewCatalogParser(parser.DefaultSelectors())
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewFixed(DefaultPageDelay)
	}
	return &Service{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "scraper_service"),
	}
}

// Run performs one crawl. It returns an error only when the request is
// invalid or the catalog could not be persisted; page, image and cache
// failures are reported in the Summary.
func (s *Service) Run(ctx context.Context, req Request) (*Summary, error) {
	req = req.withDefaults(s.cfg.Defaults)
	if err := req.validate(); err != nil {
		return nil, err
	}

	opts := append([]fetcher.Option{}, s.cfg.FetcherOptions...)
	opts = append(opts,
		fetcher.WithLogger(s.cfg.Logger),
		fetcher.WithProxy(req.Proxy),
		fetcher.WithMaxRetries(*req.MaxRetries),
		fetcher.WithRetryDelay(*req.RetryDelay),
	)
	httpFetcher, err := fetcher.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}

	var pages PageFetcher = httpFetcher
	if s.cfg.Pages != nil {
		pages = s.cfg.Pages
	}

	summary := &Summary{
		RunID:        uuid.New().String(),
		StartedAt:    time.Now(),
		Outcome:      models.OutcomeSucceeded,
		PriceChanges: make([]models.PriceChange, 0),
	}
	logger := s.logger.With("run_id", summary.RunID)
	n := s.cfg.Notifier

	n.Info(ctx, "starting crawl", "run_id", summary.RunID, "url", req.StartURL, "max_pages", req.MaxPages)

	acquirer := images.NewAcquirer(httpFetcher, req.ImageDir, n, s.cfg.Logger)
	crawler := NewCrawler(pages, s.cfg.Extractor, acquirer, s.cfg.Logger,
		WithImageWorkers(s.cfg.ImageWorkers),
		WithRateLimiter(s.cfg.Limiter))

	crawl := crawler.Crawl(ctx, req.StartURL, req.MaxPages)
	summary.PagesScraped = crawl.PagesScraped
	summary.PagesFailed = crawl.PagesFailed
	summary.ImagesDownloaded = crawl.ImagesDownloaded
	summary.ImagesReused = crawl.ImagesReused
	summary.ImageFailures = crawl.ImageFailures
	summary.ScrapedProducts = len(crawl.Products)
	summary.CrawlErr = crawl.Err
	summary.Outcome = summary.Outcome.Worse(crawl.Outcome)

	if crawl.Err != nil {
		n.Error(ctx, "crawl stopped early", "run_id", summary.RunID, "pages_scraped", crawl.PagesScraped, "error", crawl.Err)
	}
	if crawl.ImageFailures > 0 {
		n.Warning(ctx, "some images could not be downloaded", "run_id", summary.RunID, "count", crawl.ImageFailures)
	}

	products := make([]models.Product, 0, len(crawl.Products))
	for _, p := range crawl.Products {
		if p.Slug == "" {
			logger.WarnContext(ctx, "dropping product without slug", "title", p.Title, "detail_url", p.DetailURL)
			summary.FailedProducts++
			continue
		}
		products = append(products, p)
	}

	if s.cfg.Tracker != nil {
		diff := s.cfg.Tracker.DetectAndRecord(ctx, products)
		summary.PriceChanges = diff.Changes
		summary.CacheErr = diff.Err
		summary.Outcome = summary.Outcome.Worse(diff.Outcome)

		if diff.Err != nil {
			n.Warning(ctx, "price tracking degraded", "run_id", summary.RunID, "failed", diff.Failed, "error", diff.Err)
		}
		for _, change := range diff.Changes {
			n.PriceChange(ctx, change)
		}
	}

	merge, err := s.cfg.Catalog.MergeAndPersist(ctx, products)
	if err != nil {
		summary.Duration = time.Since(summary.StartedAt)
		metrics.RunDuration.WithLabelValues(models.OutcomeFailed.String()).Observe(summary.Duration.Seconds())
		n.Error(ctx, "failed to persist catalog", "run_id", summary.RunID, "error", err)
		return nil, err
	}

	summary.MergedCount = merge.Total
	summary.NewProducts = merge.Inserted
	summary.UpdatedProducts = merge.Replaced
	for _, change := range merge.Changes {
		n.ProductUpdate(ctx, change.Old, change.New)
	}

	summary.Duration = time.Since(summary.StartedAt)
	metrics.RunDuration.WithLabelValues(summary.Outcome.String()).Observe(summary.Duration.Seconds())

	n.Stats(ctx, notify.Stats{
		RunID:            summary.RunID,
		TotalProducts:    summary.MergedCount,
		NewProducts:      summary.NewProducts,
		UpdatedProducts:  summary.UpdatedProducts,
		FailedProducts:   summary.FailedProducts,
		PriceChanges:     len(summary.PriceChanges),
		ScrapeDurationMs: summary.Duration.Milliseconds(),
		PagesScraped:     summary.PagesScraped,
		ImagesDownloaded: summary.ImagesDownloaded,
	})

	if summary.Outcome == models.OutcomeSucceeded {
		n.Success(ctx, "crawl completed", "run_id", summary.RunID, "total_products", summary.MergedCount)
	} else {
		n.Warning(ctx, "crawl completed with problems", "run_id", summary.RunID, "outcome", summary.Outcome.String())
	}

	return summary, nil
}
