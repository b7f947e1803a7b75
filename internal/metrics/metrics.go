package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetch_attempts_total",
			Help: "Total number of HTTP fetch attempts.",
		},
		[]string{"result"}, // success, retry, failure
	)

	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Total number of listing pages processed.",
		},
		[]string{"status"}, // success, failure
	)

	ImagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_images_total",
			Help: "Total number of image acquisitions.",
		},
		[]string{"result"}, // downloaded, reused, failed
	)

	PriceChangesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_price_changes_total",
			Help: "Total number of detected price changes.",
		},
	)

	CacheErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_cache_errors_total",
			Help: "Total number of price cache operations that failed.",
		},
	)

	CatalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_catalog_products",
			Help: "Number of products in the persisted catalog after the last run.",
		},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_run_duration_seconds",
			Help:    "Duration of crawl runs.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)
)
