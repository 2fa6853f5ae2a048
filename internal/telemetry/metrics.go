// Package telemetry exposes Prometheus collectors for the crawl pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchAttempts counts every transport call, including retries.
	FetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_fetch_attempts_total",
		Help: "The total number of fetch attempts issued, including retries.",
	})
	// FetchRetries counts attempts beyond the first for a single URL.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_fetch_retries_total",
		Help: "The total number of fetch retries after a transient failure.",
	})
	// FetchFailures counts URLs abandoned after exhausting all retries.
	FetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_fetch_failures_total",
		Help: "The total number of fetches that failed permanently.",
	})
	// BlockDetections counts responses matching a block-indicator phrase.
	BlockDetections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_block_detections_total",
		Help: "The total number of responses that looked like an anti-bot block.",
	})
	// ChallengeSolves counts anti-bot cookie challenges solved successfully.
	ChallengeSolves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_challenge_solves_total",
		Help: "The total number of anti-bot cookie challenges solved.",
	})
	// RenderPromotions counts fetches escalated to the headless browser.
	RenderPromotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_render_promotions_total",
		Help: "The total number of fetches promoted to headless rendering.",
	})
	// ProductsStored counts products successfully upserted and written out.
	ProductsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_products_stored_total",
		Help: "The total number of products persisted to the store and output file.",
	})
	// StoreRetries counts document-store writes retried after a transient error.
	StoreRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_store_retries_total",
		Help: "The total number of document-store upserts that were retried.",
	})
	// RateLimitDelaySeconds observes time spent waiting on the per-host limiter.
	RateLimitDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawler_rate_limit_delay_seconds",
		Help:    "Histogram of delays introduced by the per-host rate limiter.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"host"})
)

// ObserveRateLimitDelay records how long a fetch waited for its host's token.
func ObserveRateLimitDelay(host string, seconds float64) {
	RateLimitDelaySeconds.WithLabelValues(host).Observe(seconds)
}
