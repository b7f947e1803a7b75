// Package notify reports run progress, price changes and product updates.
package notify

import (
	"context"

	"github.com/maltedev/stall-scraper/internal/models"
)

// Notifier receives progress messages and domain events from a crawl run.
// Implementations must not block the run for long and must not fail it.
type Notifier interface {
	Info(ctx context.Context, msg string, args ...any)
	Success(ctx context.Context, msg string, args ...any)
	Warning(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Stats(ctx context.Context, stats Stats)
	PriceChange(ctx context.Context, change models.PriceChange)
	// ProductUpdate is sent after a merge. old is nil for products that were
	// not in the catalog before.
	ProductUpdate(ctx context.Context, old *models.Product, updated models.Product)
}

// Stats summarises one run.
type Stats struct {
	RunID            string `json:"runId"`
	TotalProducts    int    `json:"totalProducts"`
	NewProducts      int    `json:"newProducts"`
	UpdatedProducts  int    `json:"updatedProducts"`
	FailedProducts   int    `json:"failedProducts"`
	PriceChanges     int    `json:"priceChanges"`
	ScrapeDurationMs int64  `json:"scrapeDurationMs"`
	PagesScraped     int    `json:"pagesScraped"`
	ImagesDownloaded int    `json:"imagesDownloaded"`
}

// Nop discards everything.
type Nop struct{}

func (Nop) Info(context.Context, string, ...any) {}
func (Nop) Success(context.Context, string, ...any) {}
func (Nop) Warning(context.Context, string, ...any) {}
func (Nop) Error(context.Context, string, ...any) {}
func (Nop) Stats(context.Context, Stats) {}
func (Nop) PriceChange(context.Context, models.PriceChange) {}
func (Nop) ProductUpdate(context.Context, *models.Product, models.Product) {}

// Multi fans every call out to each notifier in order.
type Multi []Notifier

func (m Multi) Info(ctx context.Context, msg string, args ...any) {
	for _, n := range m {
		n.Info(ctx, msg, args...)
	}
}

func (m Multi) Success(ctx context.Context, msg string, args ...any) {
	for _, n := range m {
		n.Success(ctx, msg, args...)
	}
}

func (m Multi) Warning(ctx context.Context, msg string, args ...any) {
	for _, n := range m {
		n.Warning(ctx, msg, args...)
	}
}

func (m Multi) Error(ctx context.Context, msg string, args ...any) {
	for _, n := range m {
		n.Error(ctx, msg, args...)
	}
}

func (m Multi) Stats(ctx context.Context, stats Stats) {
	for _, n := range m {
		n.Stats(ctx, stats)
	}
}

func (m Multi) PriceChange(ctx context.Context, change models.PriceChange) {
	for _, n := range m {
		n.PriceChange(ctx, change)
	}
}

func (m Multi) ProductUpdate(ctx context.Context, old *models.Product, updated models.Product) {
	for _, n := range m {
		n.ProductUpdate(ctx, old, updated)
	}
}
