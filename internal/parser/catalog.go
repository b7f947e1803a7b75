package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/stall-scraper/internal/models"
	"github.com/shopspring/decimal"
)

// CatalogParser extracts products from paginated shop listings.
type CatalogParser struct {
	selectors    Selectors
	priceCleaner *regexp.Regexp
	lazyAttrs    []string
}

func NewCatalogParser(selectors Selectors) *CatalogParser {
	return &CatalogParser{
		selectors:    selectors.withDefaults(),
		priceCleaner: regexp.MustCompile(`[^\d.]`),
		lazyAttrs:    []string{"data-lazy-src", "data-src", "data-original", "src"},
	}
}

func (p *CatalogParser) ExtractProducts(html string) ([]models.Product, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	products := make([]models.Product, 0)

	doc.Find(p.selectors.Item).Each(func(i int, item *goquery.Selection) {
		price, ok := p.ParsePrice(p.extractPriceText(item))

		link := strings.TrimSpace(item.Find(p.selectors.Link).First().AttrOr("href", ""))

		products = append(products, models.Product{
			Title:         p.extractTitle(item),
			Price:         price,
			PriceUnparsed: !ok,
			ImageURL:      p.extractImage(item),
			Slug:          SlugFromURL(link),
			DetailURL:     link,
		})
	})

	return products, nil
}

func (p *CatalogParser) ExtractNextPageURL(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	href, exists := doc.Find(p.selectors.NextPage).First().Attr("href")
	href = strings.TrimSpace(href)
	if !exists || href == "" || href == "#" {
		return "", false
	}
	return href, true
}

// ParsePrice strips everything except digits and the decimal point and parses
// the rest. The second result is false when nothing usable remained, in which
// case the price is 0.
func (p *CatalogParser) ParsePrice(text string) (float64, bool) {
	cleaned := p.priceCleaner.ReplaceAllString(text, "")
	if cleaned == "" {
		return 0, false
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

func (p *CatalogParser) extractTitle(item *goquery.Selection) string {
	if title, ok := item.Find(p.selectors.Title).First().Attr(p.selectors.TitleAttr); ok {
		if title = strings.TrimSpace(title); title != "" {
			return title
		}
	}
	return strings.TrimSpace(item.Find(p.selectors.TitleFallback).First().Text())
}

func (p *CatalogParser) extractPriceText(item *goquery.Selection) string {
	// Sale items list the old price in <del> and the current one in <ins>.
	if sale := item.Find("ins").Find(p.selectors.Price).First(); sale.Length() > 0 {
		return sale.Text()
	}
	return item.Find(p.selectors.Price).First().Text()
}

func (p *CatalogParser) extractImage(item *goquery.Selection) string {
	container := item.Find(p.selectors.ImageContainer).First()
	if container.Length() == 0 {
		container = item
	}

	// The real image usually sits in <noscript>; the visible <img> is a lazy
	// placeholder. With scripting enabled the parser keeps noscript content as
	// raw text, so it is parsed again here.
	if src := p.imageSource(container.Find("noscript img")); src != "" {
		return src
	}
	var fromNoscript string
	container.Find("noscript").EachWithBreak(func(i int, s *goquery.Selection) bool {
		fragment, err := goquery.NewDocumentFromReader(strings.NewReader(s.Text()))
		if err != nil {
			return true
		}
		fromNoscript = p.imageSource(fragment.Find("img"))
		return fromNoscript == ""
	})
	if fromNoscript != "" {
		return fromNoscript
	}

	return p.imageSource(container.Find("img"))
}

func (p *CatalogParser) imageSource(imgs *goquery.Selection) string {
	var found string
	imgs.EachWithBreak(func(i int, img *goquery.Selection) bool {
		for _, attr := range p.lazyAttrs {
			v := strings.TrimSpace(img.AttrOr(attr, ""))
			if v != "" && !strings.HasPrefix(v, "data:") {
				found = v
				return false
			}
		}
		return true
	})
	return found
}

// SlugFromURL returns the last path segment of a product URL with trailing
// slashes removed, or "" when there is none.
func SlugFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	path := strings.TrimRight(u.Path, "/")
	slug := path[strings.LastIndex(path, "/")+1:]
	if slug == "." || slug == ".." {
		return ""
	}
	return slug
}
