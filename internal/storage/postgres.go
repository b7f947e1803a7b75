package storage

import (
	"context"

	"github.com/maltedev/stall-scraper/internal/database"
	"github.com/maltedev/stall-scraper/internal/models"
)

// PostgresStore keeps the catalog in the catalog_products table.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates the catalog table if needed.
func NewPostgresStore(ctx context.Context, db *database.DB) (*PostgresStore, error) {
	if err := db.EnsureCatalogSchema(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]models.Product, error) {
	products, err := s.db.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if err := Validate(products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *PostgresStore) Save(ctx context.Context, products []models.Product) error {
	if err := Validate(products); err != nil {
		return err
	}
	return s.db.ReplaceCatalog(ctx, products)
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	return s.db.ClearCatalog(ctx)
}
