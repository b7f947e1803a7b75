package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/stall-scraper/internal/images"
	"github.com/maltedev/stall-scraper/internal/models"
	"github.com/maltedev/stall-scraper/internal/parser"
	"github.com/maltedev/stall-scraper/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listing renders a WooCommerce style page with one item per slug.
func listing(next string, slugs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul class="products">`)
	for i, slug := range slugs {
		fmt.Fprintf(&b, `<li class="product">
  <div class="mf-product-thumbnail"><a href="/product/%[1]s/"><noscript><img src="/img/%[1]s.jpg"></noscript></a></div>
  <span class="woocommerce-Price-amount amount"><bdi>$%[2]d.00</bdi></span>
  <div class="addtocart-buynow-btn"><a data-title="Product %[1]s">Buy</a></div>
</li>`, slug, 10*(i+1))
	}
	b.WriteString(`</ul>`)
	if next != "" {
		fmt.Fprintf(&b, `<a class="next page-numbers" href="%s">Next</a>`, next)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

type fakePages struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]error
	calls []string
}

func (f *fakePages) FetchText(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.fail[url]; ok {
		return "", err
	}
	html, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("unexpected url %s", url)
	}
	return html, nil
}

type fakeImages struct {
	mu     sync.Mutex
	failOn map[string]bool
	calls  []string
}

func (f *fakeImages) Acquire(_ context.Context, sourceURL, slug string) images.Result {
	f.mu.Lock()
	f.calls = append(f.calls, sourceURL)
	f.mu.Unlock()
	if f.failOn[slug] {
		return images.Result{Outcome: models.OutcomeFailed, Err: images.ErrDownloadFailed}
	}
	return images.Result{Path: "images/" + slug + ".jpg", Outcome: models.OutcomeSucceeded}
}

func newTestCrawler(pages PageFetcher, acquirer ImageAcquirer, opts ...CrawlerOption) *Crawler {
	opts = append([]CrawlerOption{WithRateLimiter(ratelimit.NewFixed(0))}, opts...)
	return NewCrawler(pages, parser.NewCatalogParser(parser.DefaultSelectors()), acquirer, slog.Default(), opts...)
}

func TestCrawl_MaxPagesBound(t *testing.T) {
	pages := &fakePages{pages: map[string]string{
		"https://shop.example/shop/": listing("/shop/page/2/", "chair"),
	}}

	result := newTestCrawler(pages, nil).Crawl(context.Background(), "https://shop.example/shop/", 1)

	assert.Equal(t, []string{"https://shop.example/shop/"}, pages.calls)
	assert.Equal(t, 1, result.PagesScraped)
	assert.Len(t, result.Products, 1)
	assert.NoError(t, result.Err)
	assert.Equal(t, models.OutcomeSucceeded, result.Outcome)
}

func TestCrawl_FollowsNextLinks(t *testing.T) {
	pages := &fakePages{pages: map[string]string{
		"https://shop.example/shop/":        listing("/shop/page/2/", "chair", "desk"),
		"https://shop.example/shop/page/2/": listing("https://shop.example/shop/page/3/", "lamp"),
		"https://shop.example/shop/page/3/": listing("", "stool"),
	}}
	acquirer := &fakeImages{}

	result := newTestCrawler(pages, acquirer).Crawl(context.Background(), "https://shop.example/shop/", 10)

	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.PagesScraped)
	assert.Len(t, pages.calls, 3)

	slugs := make([]string, 0, len(result.Products))
	for _, p := range result.Products {
		slugs = append(slugs, p.Slug)
	}
	assert.Equal(t, []string{"chair", "desk", "lamp", "stool"}, slugs)

	chair := result.Products[0]
	assert.Equal(t, "https://shop.example/img/chair.jpg", chair.ImageURL, "relative image resolved")
	assert.Equal(t, "https://shop.example/product/chair/", chair.DetailURL)
	assert.Equal(t, "images/chair.jpg", chair.ImagePath)
	assert.Equal(t, 10.0, chair.Price)
	assert.Equal(t, 4, result.ImagesDownloaded)
}

func TestCrawl_PartialSuccess(t *testing.T) {
	boom := errors.New("fetch failed: status 500")
	pages := &fakePages{
		pages: map[string]string{"https://shop.example/shop/": listing("/shop/page/2/", "chair")},
		fail:  map[string]error{"https://shop.example/shop/page/2/": boom},
	}

	result := newTestCrawler(pages, nil).Crawl(context.Background(), "https://shop.example/shop/", 5)

	assert.ErrorIs(t, result.Err, boom)
	assert.Equal(t, 1, result.PagesScraped)
	assert.Equal(t, 1, result.PagesFailed)
	require.Len(t, result.Products, 1)
	assert.Equal(t, "chair", result.Products[0].Slug)
	assert.Equal(t, models.OutcomeDegraded, result.Outcome)
}

func TestCrawl_FirstPageFails(t *testing.T) {
	pages := &fakePages{fail: map[string]error{"https://shop.example/shop/": errors.New("dns")}}

	result := newTestCrawler(pages, nil).Crawl(context.Background(), "https://shop.example/shop/", 3)

	assert.Error(t, result.Err)
	assert.NotNil(t, result.Products)
	assert.Empty(t, result.Products)
	assert.Equal(t, models.OutcomeFailed, result.Outcome)
}

func TestCrawl_ImageFailuresAreIsolated(t *testing.T) {
	pages := &fakePages{pages: map[string]string{
		"https://shop.example/shop/": listing("", "a", "b", "c", "d", "e", "f"),
	}}
	acquirer := &fakeImages{failOn: map[string]bool{"b": true, "e": true}}

	result := newTestCrawler(pages, acquirer, WithImageWorkers(4)).
		Crawl(context.Background(), "https://shop.example/shop/", 1)

	require.NoError(t, result.Err)
	require.Len(t, result.Products, 6)
	for i, slug := range []string{"a", "b", "c", "d", "e", "f"} {
		assert.Equal(t, slug, result.Products[i].Slug, "listing order preserved")
	}
	assert.Empty(t, result.Products[1].ImagePath)
	assert.Empty(t, result.Products[4].ImagePath)
	assert.Equal(t, "images/a.jpg", result.Products[0].ImagePath)
	assert.Equal(t, 2, result.ImageFailures)
	assert.Equal(t, 4, result.ImagesDownloaded)
	assert.Equal(t, models.OutcomeDegraded, result.Outcome)
	assert.Len(t, acquirer.calls, 6)
}

func TestCrawl_PacingBetweenPages(t *testing.T) {
	pages := &fakePages{pages: map[string]string{
		"https://shop.example/1": listing("/2", "a"),
		"https://shop.example/2": listing("", "b"),
	}}
	delay := 60 * time.Millisecond

	start := time.Now()
	result := newTestCrawler(pages, nil, WithRateLimiter(ratelimit.NewFixed(delay))).
		Crawl(context.Background(), "https://shop.example/1", 5)
	require.NoError(t, result.Err)
	assert.GreaterOrEqual(t, time.Since(start), delay)

	single := &fakePages{pages: map[string]string{"https://shop.example/1": listing("", "a")}}
	start = time.Now()
	newTestCrawler(single, nil, WithRateLimiter(ratelimit.NewFixed(time.Hour))).
		Crawl(context.Background(), "https://shop.example/1", 5)
	assert.Less(t, time.Since(start), time.Second, "no delay before the first or after the last page")
}

// timedPages takes fetchTime per page and records when each fetch began and ended.
type timedPages struct {
	fakePages
	fetchTime time.Duration
	starts    []time.Time
	ends      []time.Time
}

func (f *timedPages) FetchText(ctx context.Context, url string) (string, error) {
	f.starts = append(f.starts, time.Now())
	time.Sleep(f.fetchTime)
	defer func() { f.ends = append(f.ends, time.Now()) }()
	return f.fakePages.FetchText(ctx, url)
}

func TestCrawl_DelayFollowsSlowPages(t *testing.T) {
	pages := &timedPages{
		fakePages: fakePages{pages: map[string]string{
			"https://shop.example/1": listing("/2", "a"),
			"https://shop.example/2": listing("", "b"),
		}},
		fetchTime: 120 * time.Millisecond,
	}
	delay := 80 * time.Millisecond

	result := newTestCrawler(pages, nil, WithRateLimiter(ratelimit.NewFixed(delay))).
		Crawl(context.Background(), "https://shop.example/1", 5)
	require.NoError(t, result.Err)
	require.Len(t, pages.starts, 2)

	gap := pages.starts[1].Sub(pages.ends[0])
	assert.GreaterOrEqual(t, gap, delay-5*time.Millisecond, "full delay after a page slower than the delay")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "downloading", StateDownloading.String())
	assert.Equal(t, "done", StateDone.String())
}
