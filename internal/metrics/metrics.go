// Package metrics exposes Prometheus collectors for the retrieval cache.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheLookupsTotal          *prometheus.CounterVec
	fetchOutcomesTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	retryAttemptsTotal         *prometheus.CounterVec
	absorbedEntriesTotal       *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waybacker_cache_lookups_total",
				Help: "Cache lookups, labeled by result (hit, miss, refresh).",
			},
			[]string{"result"},
		)

		fetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waybacker_fetch_outcomes_total",
				Help: "Resolve-and-fetch outcomes, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waybacker_fetch_bytes_total",
				Help: "Total number of snapshot bytes stored, labeled by site.",
			},
			[]string{"site"},
		)

		retryAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waybacker_retry_attempts_total",
				Help: "Attempts made by the retry runner, labeled by operation and result.",
			},
			[]string{"operation", "result"},
		)

		absorbedEntriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waybacker_absorbed_entries_total",
				Help: "Entries considered while absorbing a foreign store, labeled by action.",
			},
			[]string{"action"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "waybacker_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host rate limiter.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLookup counts a cache decision.
func ObserveLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveOutcome counts a fetch outcome for the URL's site.
func ObserveOutcome(rawURL string, outcome string, bytesStored int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchOutcomesTotal.WithLabelValues(site, outcome).Inc()
	if bytesStored > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesStored))
	}
}

// ObserveAttempt counts one retry-runner attempt.
func ObserveAttempt(operation string, result string) {
	Init()
	retryAttemptsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveAbsorb counts an entry copied or skipped during absorb.
func ObserveAbsorb(action string) {
	Init()
	absorbedEntriesTotal.WithLabelValues(action).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records time spent waiting for a rate limit token.
func ObserveRateLimitDelay(site string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(d.Seconds())
}
