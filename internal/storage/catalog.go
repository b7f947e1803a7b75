package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/stall-scraper/internal/metrics"
	"github.com/maltedev/stall-scraper/internal/models"
)

// ProductChange describes a product that was added or modified by a merge.
// Old is nil for products that were not in the catalog before.
type ProductChange struct {
	Old *models.Product
	New models.Product
}

type MergeResult struct {
	// Total is the size of the catalog after the merge.
	Total     int
	Inserted  int
	Replaced  int
	Unchanged int
	Changes   []ProductChange
}

// Catalog merges freshly scraped products into the persisted catalog.
type Catalog struct {
	store  Store
	logger *slog.Logger
}

func NewCatalog(store Store, logger *slog.Logger) *Catalog {
	return &Catalog{
		store:  store,
		logger: logger.With("component", "catalog"),
	}
}

// MergeAndPersist loads the catalog, replaces entries whose slug appears in
// fresh, appends the rest and saves the result. Entries not present in fresh
// are kept untouched. Existing order is preserved and new slugs are appended
// in the order they were scraped. Merging the same batch twice leaves the
// catalog unchanged.
func (c *Catalog) MergeAndPersist(ctx context.Context, fresh []models.Product) (MergeResult, error) {
	existing, err := c.store.Load(ctx)
	if err != nil {
		return MergeResult{}, fmt.Errorf("failed to load catalog: %w", err)
	}

	merged := make([]models.Product, len(existing), len(existing)+len(fresh))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, p := range merged {
		index[p.Slug] = i
	}

	result := MergeResult{Changes: make([]ProductChange, 0)}

	for _, p := range dedupe(fresh) {
		i, ok := index[p.Slug]
		if !ok {
			merged = append(merged, p)
			result.Inserted++
			result.Changes = append(result.Changes, ProductChange{New: p})
			continue
		}

		old := merged[i]
		merged[i] = p
		if old == p {
			result.Unchanged++
			continue
		}
		result.Replaced++
		result.Changes = append(result.Changes, ProductChange{Old: &old, New: p})
	}

	if err := c.store.Save(ctx, merged); err != nil {
		return MergeResult{}, fmt.Errorf("failed to persist catalog: %w", err)
	}

	result.Total = len(merged)
	metrics.CatalogSize.Set(float64(result.Total))

	c.logger.InfoContext(ctx, "catalog merged",
		"total", result.Total,
		"inserted", result.Inserted,
		"replaced", result.Replaced,
		"unchanged", result.Unchanged)

	return result, nil
}

func (c *Catalog) LoadAll(ctx context.Context) ([]models.Product, error) {
	return c.store.Load(ctx)
}

func (c *Catalog) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	metrics.CatalogSize.Set(0)
	return nil
}

// dedupe keeps the last record per slug at the position of its first
// occurrence.
func dedupe(products []models.Product) []models.Product {
	out := make([]models.Product, 0, len(products))
	pos := make(map[string]int, len(products))
	for _, p := range products {
		if i, ok := pos[p.Slug]; ok {
			out[i] = p
			continue
		}
		pos[p.Slug] = len(out)
		out = append(out, p)
	}
	return out
}
