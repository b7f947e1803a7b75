package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/stall-scraper/internal/images"
	"github.com/maltedev/stall-scraper/internal/metrics"
	"github.com/maltedev/stall-scraper/internal/models"
	"github.com/maltedev/stall-scraper/internal/parser"
	"github.com/maltedev/stall-scraper/internal/ratelimit"
)

// PageFetcher returns the markup of a listing page. Both the HTTP fetcher and
// the browser satisfy it.
type PageFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// ImageAcquirer stores the image of one product locally.
type ImageAcquirer interface {
	Acquire(ctx context.Context, sourceURL, slug string) images.Result
}

type State int

const (
	StateIdle State = iota
	StateFetching
	StateExtracting
	StateDownloading
	StateAdvancing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateExtracting:
		return "extracting"
	case StateDownloading:
		return "downloading"
	case StateAdvancing:
		return "advancing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// CrawlState is the state of one traversal. It lives for a single Crawl call.
type CrawlState struct {
	State      State
	CurrentURL string
	Page       int
	html       string
	pending    []models.Product
	nextURL    string

	Products         []models.Product
	PagesScraped     int
	PagesFailed      int
	ImagesDownloaded int
	ImagesReused     int
	ImageFailures    int
	// Err is the page-level error that ended the traversal early, if any.
	Err error
}

// CrawlResult is what a traversal produced.
type CrawlResult struct {
	Products         []models.Product
	PagesScraped     int
	PagesFailed      int
	ImagesDownloaded int
	ImagesReused     int
	ImageFailures    int
	Err              error
	Outcome          models.Outcome
}

// Crawler walks a paginated listing one page at a time.
type Crawler struct {
	fetcher      PageFetcher
	extractor    parser.Extractor
	images       ImageAcquirer
	limiter      ratelimit.RateLimiter
	imageWorkers int
	logger       *slog.Logger
}

type CrawlerOption func(*Crawler)

// WithImageWorkers bounds concurrent image downloads within one page.
func WithImageWorkers(n int) CrawlerOption {
	return func(c *Crawler) {
		if n > 0 {
			c.imageWorkers = n
		}
	}
}

// WithRateLimiter replaces the default one second pacing between pages.
func WithRateLimiter(l ratelimit.RateLimiter) CrawlerOption {
	return func(c *Crawler) {
		if l != nil {
			c.limiter = l
		}
	}
}

// NewCrawler builds a Crawler. A nil ImageAcquirer disables downloads.
func NewCrawler(fetcher PageFetcher, extractor parser.Extractor, acquirer ImageAcquirer, logger *slog.Logger, opts ...CrawlerOption) *Crawler {
	c := &Crawler{
		fetcher:      fetcher,
		extractor:    extractor,
		images:       acquirer,
		limiter:      ratelimit.NewFixed(DefaultPageDelay),
		imageWorkers: 1,
		logger:       logger.With("component", "crawler"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Crawl visits at most maxPages pages starting at startURL. A failing page
// ends the traversal but keeps everything collected from earlier pages; the
// failure is reported in the result rather than returned.
func (c *Crawler) Crawl(ctx context.Context, startURL string, maxPages int) *CrawlResult {
	if maxPages < 1 {
		maxPages = 1
	}
	if r, ok := c.limiter.(interface{ Reset() }); ok {
		r.Reset()
	}

	st := &CrawlState{State: StateIdle, CurrentURL: startURL, Products: make([]models.Product, 0)}

	for st.State != StateDone {
		switch st.State {
		case StateIdle:
			st.Page = 1
			st.State = StateFetching

		case StateFetching:
			c.fetch(ctx, st)

		case StateExtracting:
			c.extract(ctx, st)

		case StateDownloading:
			c.download(ctx, st)

		case StateAdvancing:
			c.advance(ctx, st, maxPages)
		}
	}

	outcome := models.OutcomeSucceeded
	if st.Err != nil || st.ImageFailures > 0 {
		outcome = models.OutcomeDegraded
	}
	if st.Err != nil && st.PagesScraped == 0 {
		outcome = models.OutcomeFailed
	}

	c.logger.InfoContext(ctx, "crawl finished",
		"pages_scraped", st.PagesScraped,
		"pages_failed", st.PagesFailed,
		"products", len(st.Products),
		"images_downloaded", st.ImagesDownloaded,
		"images_reused", st.ImagesReused,
		"image_failures", st.ImageFailures,
		"outcome", outcome.String())

	return &CrawlResult{
		Products:         st.Products,
		PagesScraped:     st.PagesScraped,
		PagesFailed:      st.PagesFailed,
		ImagesDownloaded: st.ImagesDownloaded,
		ImagesReused:     st.ImagesReused,
		ImageFailures:    st.ImageFailures,
		Err:              st.Err,
		Outcome:          outcome,
	}
}

func (c *Crawler) fetch(ctx context.Context, st *CrawlState) {
	// The first page goes through immediately. Later pages wait the full
	// delay after the previous page finished, images included.
	if err := c.limiter.Wait(ctx); err != nil {
		st.Err = err
		st.State = StateDone
		return
	}

	c.logger.InfoContext(ctx, "processing page", "page", st.Page, "url", st.CurrentURL)

	html, err := c.fetcher.FetchText(ctx, st.CurrentURL)
	if err != nil {
		c.pageFailed(ctx, st, fmt.Errorf("failed to fetch page %d: %w", st.Page, err))
		return
	}
	st.html = html
	st.State = StateExtracting
}

func (c *Crawler) extract(ctx context.Context, st *CrawlState) {
	products, err := c.extractor.ExtractProducts(st.html)
	if err != nil {
		c.pageFailed(ctx, st, fmt.Errorf("failed to extract products from page %d: %w", st.Page, err))
		return
	}

	base, _ := url.Parse(st.CurrentURL)
	for i := range products {
		products[i].ImageURL = resolve(base, products[i].ImageURL)
		products[i].DetailURL = resolve(base, products[i].DetailURL)
	}

	st.nextURL = ""
	if next, ok := c.extractor.ExtractNextPageURL(st.html); ok {
		st.nextURL = resolve(base, next)
	}

	st.html = ""
	st.pending = products
	st.State = StateDownloading
}

func (c *Crawler) download(ctx context.Context, st *CrawlState) {
	if c.images != nil {
		results := c.acquireAll(ctx, st.pending)
		for i, res := range results {
			switch {
			case res == nil:
			case res.Err != nil:
				st.ImageFailures++
			case res.Reused:
				st.pending[i].ImagePath = res.Path
				st.ImagesReused++
			default:
				st.pending[i].ImagePath = res.Path
				st.ImagesDownloaded++
			}
		}
	}

	st.Products = append(st.Products, st.pending...)
	st.pending = nil
	st.PagesScraped++
	c.limiter.Done()
	metrics.PagesTotal.WithLabelValues("success").Inc()
	st.State = StateAdvancing
}

// acquireAll downloads images for products in a bounded pool. results[i]
// belongs to products[i] and is nil when the product has no image or no slug
// to name it by.
func (c *Crawler) acquireAll(ctx context.Context, products []models.Product) []*images.Result {
	results := make([]*images.Result, len(products))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.imageWorkers)

	for i, p := range products {
		if p.ImageURL == "" || p.Slug == "" {
			continue
		}
		i, p := i, p
		g.Go(func() error {
			res := c.images.Acquire(gctx, p.ImageURL, p.Slug)
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Crawler) advance(ctx context.Context, st *CrawlState, maxPages int) {
	if st.nextURL == "" {
		c.logger.InfoContext(ctx, "no more pages found", "page", st.Page)
		st.State = StateDone
		return
	}
	if st.Page >= maxPages {
		c.logger.InfoContext(ctx, "page limit reached", "max_pages", maxPages)
		st.State = StateDone
		return
	}

	st.CurrentURL = st.nextURL
	st.nextURL = ""
	st.Page++
	st.State = StateFetching
}

func (c *Crawler) pageFailed(ctx context.Context, st *CrawlState, err error) {
	c.logger.ErrorContext(ctx, "page failed, keeping earlier results",
		"page", st.Page,
		"url", st.CurrentURL,
		"error", err)
	metrics.PagesTotal.WithLabelValues("failure").Inc()
	st.PagesFailed++
	st.Err = err
	st.State = StateDone
}

// resolve makes ref absolute against base. Unparsable references are
// returned unchanged.
func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
