// Package storage persists the product catalog.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/maltedev/stall-scraper/internal/models"
)

// Store persists a whole catalog at once. Load on an empty store returns an
// empty slice, and Clear on an empty store succeeds.
type Store interface {
	Load(ctx context.Context) ([]models.Product, error)
	Save(ctx context.Context, products []models.Product) error
	Clear(ctx context.Context) error
}

var ErrValidationFailed = errors.New("validation failed")

// ValidationError lists every problem found in a batch. Field names are
// prefixed with the product index, e.g. "products[2].slug".
type ValidationError struct {
	Violations []models.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }

// Validate checks every product and aggregates all violations. It returns
// nil when the batch is valid.
func Validate(products []models.Product) error {
	var violations []models.FieldError
	for i := range products {
		for _, fe := range products[i].Validate() {
			violations = append(violations, models.FieldError{
				Field:   fmt.Sprintf("products[%d].%s", i, fe.Field),
				Message: fe.Message,
			})
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
