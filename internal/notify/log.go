package notify

import (
	"context"
	"log/slog"
	"math"

	"github.com/maltedev/stall-scraper/internal/models"
)

// LogNotifier writes notifications as structured log records.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Info(ctx context.Context, msg string, args ...any) {
	n.logger.InfoContext(ctx, msg, args...)
}

func (n *LogNotifier) Success(ctx context.Context, msg string, args ...any) {
	n.logger.InfoContext(ctx, msg, append(args, "status", "success")...)
}

func (n *LogNotifier) Warning(ctx context.Context, msg string, args ...any) {
	n.logger.WarnContext(ctx, msg, args...)
}

func (n *LogNotifier) Error(ctx context.Context, msg string, args ...any) {
	n.logger.ErrorContext(ctx, msg, args...)
}

func (n *LogNotifier) Stats(ctx context.Context, stats Stats) {
	n.logger.InfoContext(ctx, "run statistics",
		"run_id", stats.RunID,
		"total_products", stats.TotalProducts,
		"new_products", stats.NewProducts,
		"updated_products", stats.UpdatedProducts,
		"failed_products", stats.FailedProducts,
		"price_changes", stats.PriceChanges,
		"pages_scraped", stats.PagesScraped,
		"images_downloaded", stats.ImagesDownloaded,
		"duration_ms", stats.ScrapeDurationMs)
}

func (n *LogNotifier) PriceChange(ctx context.Context, change models.PriceChange) {
	n.logger.InfoContext(ctx, "price changed",
		"slug", change.Slug,
		"title", change.Title,
		"old_price", change.OldPrice,
		"new_price", change.NewPrice,
		"change_percent", math.Round(change.ChangePercent*100)/100)
}

func (n *LogNotifier) ProductUpdate(ctx context.Context, old *models.Product, updated models.Product) {
	if old == nil {
		n.logger.InfoContext(ctx, "new product",
			"slug", updated.Slug,
			"title", updated.Title,
			"price", updated.Price)
		return
	}

	n.logger.InfoContext(ctx, "product updated",
		"slug", updated.Slug,
		"title", updated.Title,
		"old_price", old.Price,
		"new_price", updated.Price,
		"image_changed", old.ImageURL != updated.ImageURL)
}
