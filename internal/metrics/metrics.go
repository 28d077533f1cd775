// Package metrics exposes Prometheus collectors for the crawl pipeline.
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
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	crawlerRobotsFallbackTotal    *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	pipelineCandidatesTotal       *prometheus.CounterVec
	pipelineDiscardedTotal        *prometheus.CounterVec
	pipelineRecordsWritten        *prometheus.GaugeVec
	pipelineRunsTotal             *prometheus.CounterVec
	pipelineRunDurationSeconds    *prometheus.HistogramVec
	pipelineLastSuccess           *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of seed pages attempted, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerRobotsFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_fallback_total",
				Help: "robots.txt probes that timed out and fell back to allow-all.",
			},
			[]string{"site"},
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

		pipelineCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_candidates_total",
				Help: "Raw candidates extracted, labeled by variant and extraction method.",
			},
			[]string{"variant", "method"},
		)

		pipelineDiscardedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_discarded_total",
				Help: "Candidates dropped during normalization, labeled by variant and reason.",
			},
			[]string{"variant", "reason"},
		)

		pipelineRecordsWritten = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_records_written",
				Help: "Records in the dataset written by the latest run.",
			},
			[]string{"variant"},
		)

		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Pipeline runs, labeled by variant and outcome.",
			},
			[]string{"variant", "status"},
		)

		pipelineRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_run_duration_seconds",
				Help:    "Wall time of pipeline runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"variant"},
		)

		pipelineLastSuccess = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_last_success_timestamp_seconds",
				Help: "Unix time of the last successful run.",
			},
			[]string{"variant"},
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

// ObserveCrawl records one page attempt.
func ObserveCrawl(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback(site string) {
	Init()
	crawlerRobotsFallbackTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCandidate counts an extracted candidate.
func ObserveCandidate(variant, method string) {
	Init()
	pipelineCandidatesTotal.WithLabelValues(variant, method).Inc()
}

// ObserveDiscard counts a candidate dropped by the normalizer.
func ObserveDiscard(variant, reason string) {
	Init()
	pipelineDiscardedTotal.WithLabelValues(variant, reason).Inc()
}

// ObserveRun records the outcome of a pipeline run.
func ObserveRun(variant string, success bool, records int, duration time.Duration, finished time.Time) {
	Init()
	status := "failed"
	if success {
		status = "succeeded"
		pipelineRecordsWritten.WithLabelValues(variant).Set(float64(records))
		pipelineLastSuccess.WithLabelValues(variant).Set(float64(finished.Unix()))
	}
	pipelineRunsTotal.WithLabelValues(variant, status).Inc()
	pipelineRunDurationSeconds.WithLabelValues(variant).Observe(duration.Seconds())
}

// Push sends the default registry to a Prometheus Pushgateway. One-shot CLI runs exit before a
// scrape could happen, so they push instead.
func Push(ctx context.Context, gatewayURL, job string) error {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil
	}
	if job == "" {
		job = "runcalcs_crawler"
	}
	Init()
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
