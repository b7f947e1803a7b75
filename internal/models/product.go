package models

import (
	"math"
)

// Product is one catalog entry scraped from a listing page.
// JSON names match the catalog files written by earlier versions of the scraper.
type Product struct {
	Title         string  `json:"product_title"`
	Price         float64 `json:"product_price"`
	PriceUnparsed bool    `json:"price_unparsed,omitempty"`
	ImageURL      string  `json:"image_url"`
	ImagePath     string  `json:"path_to_image,omitempty"`
	Slug          string  `json:"slug"`
	DetailURL     string  `json:"detail_url,omitempty"`
}

// PriceChange is emitted when a cached price differs from the scraped one.
type PriceChange struct {
	Slug          string  `json:"slug"`
	Title         string  `json:"title"`
	OldPrice      float64 `json:"old_price"`
	NewPrice      float64 `json:"new_price"`
	ChangePercent float64 `json:"change_percent"`
}

// NewPriceChange computes the unrounded percentage change. A zero old price
// yields +100% for any new price above zero.
func NewPriceChange(p Product, oldPrice float64) PriceChange {
	return PriceChange{
		Slug:          p.Slug,
		Title:         p.Title,
		OldPrice:      oldPrice,
		NewPrice:      p.Price,
		ChangePercent: changePercent(oldPrice, p.Price),
	}
}

func changePercent(oldPrice, newPrice float64) float64 {
	if oldPrice == 0 {
		if newPrice == 0 {
			return 0
		}
		return 100
	}
	return (newPrice - oldPrice) * 100 / oldPrice
}

// Outcome describes how an operation with best-effort sub-steps finished.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeDegraded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Worse returns the more severe of two outcomes.
func (o Outcome) Worse(other Outcome) Outcome {
	if other > o {
		return other
	}
	return o
}

// FieldError is a single validation problem on a product.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate checks the fields required before a product may be persisted.
func (p *Product) Validate() []FieldError {
	var errors []FieldError

	if p.Title == "" {
		errors = append(errors, FieldError{Field: "product_title", Message: "product title is required"})
	}

	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price < 0 {
		errors = append(errors, FieldError{Field: "product_price", Message: "product price must be a non-negative number"})
	}

	if p.ImageURL == "" {
		errors = append(errors, FieldError{Field: "image_url", Message: "product image URL is required"})
	}

	if p.Slug == "" {
		errors = append(errors, FieldError{Field: "slug", Message: "product slug is required"})
	}

	return errors
}
