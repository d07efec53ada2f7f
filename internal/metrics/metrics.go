package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the application, registered with the default
// registry via promauto and exposed on /metrics.

var (
	// HTTP

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Cache

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of link cache hits",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of link cache misses",
		},
	)

	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "Duration of cache operations in seconds",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05},
		},
		[]string{"operation"}, // get, set, delete
	)

	// Rate limiting

	RateLimitedRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Total number of rate-limited requests",
		},
	)

	// Business

	LinksCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "links_created_total",
			Help: "Total number of links created",
		},
	)

	RedirectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redirects_total",
			Help: "Total number of successful redirects",
		},
	)

	// Analytics store

	AnalyticsEventsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_events_written_total",
			Help: "Total number of access events written to the analytics store",
		},
	)

	AnalyticsEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_events_dropped_total",
			Help: "Total number of access events that failed to write",
		},
	)

	AnalyticsQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analytics_query_duration_seconds",
			Help:    "Duration of analytics store queries in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	AnalyticsQueryErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_query_errors_total",
			Help: "Total number of failed analytics store queries",
		},
	)
)

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	CacheHitsTotal.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	CacheMissesTotal.Inc()
}

// RecordLinkCreated increments the link creation counter.
func RecordLinkCreated() {
	LinksCreatedTotal.Inc()
}

// RecordRedirect increments the redirect counter.
func RecordRedirect() {
	RedirectsTotal.Inc()
}

// RecordRateLimited increments the rate-limited requests counter.
func RecordRateLimited() {
	RateLimitedRequestsTotal.Inc()
}
