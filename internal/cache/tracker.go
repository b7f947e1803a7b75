package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/stall-scraper/internal/metrics"
	"github.com/maltedev/stall-scraper/internal/models"
)

const DefaultPriceTTL = time.Hour

// DiffResult is the outcome of comparing one batch of products against the
// cached prices.
type DiffResult struct {
	Changes   []models.PriceChange
	New       int
	Unchanged int
	// Skipped counts products without a slug or a parsed price.
	Skipped int
	// Failed counts products whose cache read or write failed.
	Failed  int
	Outcome models.Outcome
	// Err is the first cache error seen, if any.
	Err error
}

// PriceTracker detects price changes by slug and records the latest price.
// The read and the write for one slug are not atomic, so concurrent runs
// against the same cache may both report or both miss a change.
type PriceTracker struct {
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewPriceTracker(c Cache, ttl time.Duration, logger *slog.Logger) *PriceTracker {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &PriceTracker{
		cache:  c,
		ttl:    ttl,
		logger: logger.With("component", "price_tracker"),
	}
}

// DetectAndRecord compares each product's price with the cached one, returns
// a change event for every difference and stores the new price. Unchanged
// prices are written again so their expiry is refreshed. Cache failures skip
// the affected product and degrade the result; they never abort the batch.
func (t *PriceTracker) DetectAndRecord(ctx context.Context, products []models.Product) DiffResult {
	result := DiffResult{Changes: make([]models.PriceChange, 0), Outcome: models.OutcomeSucceeded}

	for _, p := range products {
		if ctx.Err() != nil {
			t.degrade(&result, ctx.Err())
			break
		}

		if p.Slug == "" || p.PriceUnparsed {
			result.Skipped++
			continue
		}

		var cached float64
		found, err := t.cache.Get(ctx, p.Slug, &cached)
		if err != nil {
			t.logger.WarnContext(ctx, "failed to read cached price", "slug", p.Slug, "error", err)
			result.Failed++
			t.degrade(&result, err)
			continue
		}

		switch {
		case !found:
			result.New++
		case cached == p.Price:
			result.Unchanged++
		default:
			change := models.NewPriceChange(p, cached)
			result.Changes = append(result.Changes, change)
			metrics.PriceChangesTotal.Inc()
			t.logger.DebugContext(ctx, "price change detected",
				"slug", p.Slug,
				"old_price", cached,
				"new_price", p.Price,
				"change_percent", change.ChangePercent)
		}

		if err := t.cache.Set(ctx, p.Slug, p.Price, t.ttl); err != nil {
			t.logger.WarnContext(ctx, "failed to record price", "slug", p.Slug, "error", err)
			result.Failed++
			t.degrade(&result, err)
		}
	}

	return result
}

func (t *PriceTracker) degrade(r *DiffResult, err error) {
	metrics.CacheErrorsTotal.Inc()
	r.Outcome = r.Outcome.Worse(models.OutcomeDegraded)
	if r.Err == nil {
		r.Err = err
	}
}
