package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/stall-scraper/internal/models"
)

const catalogSchema = `
	CREATE TABLE IF NOT EXISTS catalog_products (
		slug           TEXT PRIMARY KEY,
		position       INTEGER NOT NULL,
		title          TEXT NOT NULL,
		price          DOUBLE PRECISION NOT NULL CHECK (price >= 0),
		price_unparsed BOOLEAN NOT NULL DEFAULT FALSE,
		image_url      TEXT NOT NULL,
		image_path     TEXT NOT NULL DEFAULT '',
		detail_url     TEXT NOT NULL DEFAULT '',
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

// EnsureCatalogSchema creates the catalog table if it does not exist.
func (db *DB) EnsureCatalogSchema(ctx context.Context) error {
	if _, err := db.Exec(ctx, catalogSchema); err != nil {
		return fmt.Errorf("failed to create catalog schema: %w", err)
	}
	return nil
}

// LoadCatalog returns all catalog rows in their stored order.
func (db *DB) LoadCatalog(ctx context.Context) ([]models.Product, error) {
	query := `
		SELECT title, price, price_unparsed, image_url, image_path, slug, detail_url
		FROM catalog_products
		ORDER BY position`

	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.Title, &p.Price, &p.PriceUnparsed, &p.ImageURL, &p.ImagePath, &p.Slug, &p.DetailURL); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog rows: %w", err)
	}

	return products, nil
}

// ReplaceCatalog swaps the stored catalog for products in one transaction.
func (db *DB) ReplaceCatalog(ctx context.Context, products []models.Product) error {
	return db.Transaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM catalog_products`); err != nil {
			return fmt.Errorf("failed to clear catalog: %w", err)
		}

		batch := &pgx.Batch{}
		for i, p := range products {
			batch.Queue(`
				INSERT INTO catalog_products
					(slug, position, title, price, price_unparsed, image_url, image_path, detail_url)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				p.Slug, i, p.Title, p.Price, p.PriceUnparsed, p.ImageURL, p.ImagePath, p.DetailURL)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert catalog: %w", err)
		}
		return nil
	})
}

// ClearCatalog removes every catalog row.
func (db *DB) ClearCatalog(ctx context.Context) error {
	if _, err := db.Exec(ctx, `DELETE FROM catalog_products`); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}
	return nil
}
