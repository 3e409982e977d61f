// Package metrics exposes Prometheus collectors for the price tracker.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapeItemsTotal           *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	batchDurationSeconds       *prometheus.HistogramVec
	plannedItems               prometheus.Gauge
	challengeAttemptsTotal     *prometheus.CounterVec
	manualWaitsTotal           prometheus.Counter
	cacheLookupsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times; every
// observer calls it first.
func Init() {
	once.Do(func() {
		scrapeItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_scrape_items_total",
				Help: "Items processed by scrape sessions, labeled by outcome and reason.",
			},
			[]string{"outcome", "reason"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_alerts_total",
				Help: "Price alerts that fired, labeled by delivery result.",
			},
			[]string{"result"},
		)

		batchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricewatch_batch_duration_seconds",
				Help:    "Wall time of scrape batches, labeled by trigger.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"trigger"},
		)

		plannedItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricewatch_planned_items",
				Help: "Items found due by the most recent re-scrape plan.",
			},
		)

		challengeAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_challenge_attempts_total",
				Help: "Automatic bot-challenge attempts, labeled by result.",
			},
			[]string{"result"},
		)

		manualWaitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricewatch_challenge_manual_waits_total",
				Help: "Times a session fell back to waiting for a human to clear a challenge.",
			},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewatch_result_cache_lookups_total",
				Help: "Result cache reads, labeled by result (hit, miss, expired).",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricewatch_rate_limit_delays_seconds",
				Help:    "Histogram of page pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem counts one item result.
func ObserveItem(outcome, reason string) {
	Init()
	scrapeItemsTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveAlert counts one fired alert.
func ObserveAlert(result string) {
	Init()
	alertsTotal.WithLabelValues(result).Inc()
}

// ObserveBatch records a finished batch.
func ObserveBatch(trigger string, duration time.Duration) {
	Init()
	batchDurationSeconds.WithLabelValues(trigger).Observe(duration.Seconds())
}

// SetPlanned records the size of the latest due set.
func SetPlanned(n int) {
	Init()
	plannedItems.Set(float64(n))
}

// ObserveChallengeAttempt counts one automatic challenge attempt.
func ObserveChallengeAttempt(result string) {
	Init()
	challengeAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveManualWait counts a fallback to manual challenge resolution.
func ObserveManualWait() {
	Init()
	manualWaitsTotal.Inc()
}

// ObserveCacheLookup counts one result cache read.
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
