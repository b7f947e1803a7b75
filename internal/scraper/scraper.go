// Package scraper crawls a paginated shop listing and folds the result into
// the persisted catalog.
package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/maltedev/stall-scraper/internal/fetcher"
	"github.com/maltedev/stall-scraper/internal/models"
)

var (
	ErrMissingStartURL = errors.New("start URL is required")
	ErrInvalidStartURL = errors.New("start URL must be an absolute http(s) URL")
)

const (
	DefaultMaxPages  = 1
	DefaultPageDelay = time.Second
	DefaultImageDir  = "./images"
)

// Request describes one crawl invocation. Nil and zero fields fall back to
// the service defaults.
type Request struct {
	StartURL   string
	MaxPages   int
	Proxy      string
	MaxRetries *int
	RetryDelay *time.Duration
	ImageDir   string
}

func (r Request) withDefaults(d Request) Request {
	if r.StartURL == "" {
		r.StartURL = d.StartURL
	}
	if r.MaxPages <= 0 {
		r.MaxPages = d.MaxPages
	}
	if r.MaxPages <= 0 {
		r.MaxPages = DefaultMaxPages
	}
	if r.Proxy == "" {
		r.Proxy = d.Proxy
	}
	if r.MaxRetries == nil {
		r.MaxRetries = d.MaxRetries
	}
	if r.MaxRetries == nil {
		n := fetcher.DefaultMaxRetries
		r.MaxRetries = &n
	}
	if r.RetryDelay == nil {
		r.RetryDelay = d.RetryDelay
	}
	if r.RetryDelay == nil {
		delay := fetcher.DefaultRetryDelay
		r.RetryDelay = &delay
	}
	if r.ImageDir == "" {
		r.ImageDir = d.ImageDir
	}
	if r.ImageDir == "" {
		r.ImageDir = DefaultImageDir
	}
	return r
}

func (r Request) validate() error {
	if r.StartURL == "" {
		return ErrMissingStartURL
	}
	u, err := url.Parse(r.StartURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidStartURL, r.StartURL)
	}
	return nil
}

// Summary is the result of a completed run.
type Summary struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   models.Outcome

	// MergedCount is the size of the catalog after the merge.
	MergedCount      int
	ScrapedProducts  int
	NewProducts      int
	UpdatedProducts  int
	FailedProducts   int
	PagesScraped     int
	PagesFailed      int
	ImagesDownloaded int
	ImagesReused     int
	ImageFailures    int
	PriceChanges     []models.PriceChange

	// CrawlErr is the page error that stopped the crawl early.
	CrawlErr error
	// CacheErr is the first price cache failure.
	CacheErr error
}
