// Package metrics exposes Prometheus collectors for the catalog pipeline.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	itemsTotal                 *prometheus.CounterVec
	discoveryEntriesTotal      *prometheus.CounterVec
	sweepPagesTotal            *prometheus.CounterVec
	leasesTotal                *prometheus.CounterVec
	frontierPending            *prometheus.GaugeVec
	fetchDurationSeconds       *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_items_total",
				Help: "Work items processed by the drain loop, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		discoveryEntriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_discovery_entries_total",
				Help: "Directory entries seen by discovery, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		sweepPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_sweep_pages_total",
				Help: "Listing pages handled by cursor sweeps, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		leasesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_leases_total",
				Help: "Leased links finished, labeled by queue and outcome.",
			},
			[]string{"queue", "outcome"},
		)

		frontierPending = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "catalog_frontier_pending",
				Help: "Unfetched work items after the latest drain, labeled by source.",
			},
			[]string{"source"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by source.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// Push sends every registered collector to a Prometheus pushgateway. Batch
// commands call it once before exiting.
func Push(ctx context.Context, gatewayURL, job string) error {
	Init()
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}

// Recorder feeds pipeline stage outcomes into the collectors.
type Recorder struct{}

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() Recorder {
	Init()
	return Recorder{}
}

// ItemProcessed counts one drained work item.
func (Recorder) ItemProcessed(source, outcome string) {
	itemsTotal.WithLabelValues(source, outcome).Inc()
}

// DiscoveryEntry counts one directory entry.
func (Recorder) DiscoveryEntry(source, outcome string) {
	discoveryEntriesTotal.WithLabelValues(source, outcome).Inc()
}

// SweepPage counts one listing page.
func (Recorder) SweepPage(source, outcome string) {
	sweepPagesTotal.WithLabelValues(source, outcome).Inc()
}

// LeaseFinished counts one completed or released lease.
func (Recorder) LeaseFinished(queue, outcome string) {
	leasesTotal.WithLabelValues(queue, outcome).Inc()
}

// FrontierPending sets the pending gauge for source.
func (Recorder) FrontierPending(source string, pending int) {
	frontierPending.WithLabelValues(source).Set(float64(pending))
}

// FetchObserved records one fetch latency.
func (Recorder) FetchObserved(source string, d time.Duration) {
	fetchDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
}
