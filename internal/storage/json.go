package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/maltedev/stall-scraper/internal/models"
)

const DefaultFileName = "products.json"

// JSONStore keeps the catalog in a single JSON array file.
type JSONStore struct {
	mu       sync.Mutex
	filename string
	pretty   bool
}

func NewJSONStore(dir string, pretty bool) *JSONStore {
	return &JSONStore{
		filename: filepath.Join(dir, DefaultFileName),
		pretty:   pretty,
	}
}

func (s *JSONStore) Path() string {
	return s.filename
}

func (s *JSONStore) Load(_ context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filename)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Product{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	products := []models.Product{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &products); err != nil {
			return nil, fmt.Errorf("failed to load products: %w", err)
		}
	}

	if err := Validate(products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *JSONStore) Save(_ context.Context, products []models.Product) error {
	if err := Validate(products); err != nil {
		return err
	}
	if products == nil {
		products = []models.Product{}
	}

	var (
		data []byte
		err  error
	)
	if s.pretty {
		data, err = json.MarshalIndent(products, "", "  ")
	} else {
		data, err = json.Marshal(products)
	}
	if err != nil {
		return fmt.Errorf("failed to save products: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filename), 0o755); err != nil {
		return fmt.Errorf("failed to save products: %w", err)
	}

	// Write to temp file first so readers never see a partial catalog.
	tmpFile := s.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to save products: %w", err)
	}
	if err := os.Rename(tmpFile, s.filename); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to save products: %w", err)
	}
	return nil
}

func (s *JSONStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filename); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear products: %w", err)
	}
	return nil
}
