package parser

import (
	"github.com/maltedev/stall-scraper/internal/models"
)

// Extractor turns one listing page into product records. Implementations are
// pure: identical markup always yields identical output.
type Extractor interface {
	// ExtractProducts returns every listed product. Image, detail and next
	// links are returned as found in the markup and may be relative.
	ExtractProducts(html string) ([]models.Product, error)
	// ExtractNextPageURL returns the next page link, or false at the end of
	// the catalog.
	ExtractNextPageURL(html string) (string, bool)
}

// Selectors locate product fields inside a listing page.
type Selectors struct {
	Item      string `yaml:"item"`
	Title     string `yaml:"title"`
	TitleAttr string `yaml:"title_attr"`
	// TitleFallback is read as text when Title yields nothing.
	TitleFallback  string `yaml:"title_fallback"`
	Price          string `yaml:"price"`
	ImageContainer string `yaml:"image_container"`
	Link           string `yaml:"link"`
	NextPage       string `yaml:"next_page"`
}

// DefaultSelectors matches WooCommerce shop listings.
func DefaultSelectors() Selectors {
	return Selectors{
		Item:           "ul.products li",
		Title:          ".addtocart-buynow-btn a",
		TitleAttr:      "data-title",
		TitleFallback:  ".woocommerce-loop-product__title, h2",
		Price:          ".woocommerce-Price-amount bdi",
		ImageContainer: ".mf-product-thumbnail",
		Link:           ".mf-product-thumbnail a, a.woocommerce-LoopProduct-link",
		NextPage:       ".next.page-numbers",
	}
}

// withDefaults fills empty selectors from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	if s.Item == "" {
		s.Item = d.Item
	}
	if s.Title == "" {
		s.Title = d.Title
	}
	if s.TitleAttr == "" {
		s.TitleAttr = d.TitleAttr
	}
	if s.TitleFallback == "" {
		s.TitleFallback = d.TitleFallback
	}
	if s.Price == "" {
		s.Price = d.Price
	}
	if s.ImageContainer == "" {
		s.ImageContainer = d.ImageContainer
	}
	if s.Link == "" {
		s.Link = d.Link
	}
	if s.NextPage == "" {
		s.NextPage = d.NextPage
	}
	return s
}
