// Package metrics exposes Prometheus collectors for the capture service.
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
	captureAttemptsTotal       *prometheus.CounterVec
	captureDurationSeconds     *prometheus.HistogramVec
	captureBytesTotal          *prometheus.CounterVec
	captureQueuePending        prometheus.Gauge
	captureQueueActive         prometheus.Gauge
	captureRateLimitDelays     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		captureAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_attempts_total",
				Help: "Total number of engine attempts, labeled by kind, engine and outcome.",
			},
			[]string{"kind", "engine", "outcome"},
		)

		captureDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capture_duration_seconds",
				Help:    "Histogram of engine attempt latencies, labeled by kind and engine.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind", "engine"},
		)

		captureBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_bytes_total",
				Help: "Total number of image bytes produced, labeled by kind.",
			},
			[]string{"kind"},
		)

		captureQueuePending = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "capture_queue_pending",
				Help: "Number of capture requests waiting for admission.",
			},
		)

		captureQueueActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "capture_queue_active",
				Help: "Number of capture requests currently running.",
			},
		)

		captureRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capture_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveAttempt records one engine attempt.
func ObserveAttempt(kind, engine, outcome string, duration time.Duration) {
	Init()
	captureAttemptsTotal.WithLabelValues(kind, engine, outcome).Inc()
	captureDurationSeconds.WithLabelValues(kind, engine).Observe(duration.Seconds())
}

// ObserveBytes adds produced image bytes for kind.
func ObserveBytes(kind string, n int) {
	if n <= 0 {
		return
	}
	Init()
	captureBytesTotal.WithLabelValues(kind).Add(float64(n))
}

// SetQueueDepth publishes the admission queue gauges.
func SetQueueDepth(pending, active int) {
	Init()
	captureQueuePending.Set(float64(pending))
	captureQueueActive.Set(float64(active))
}

// ObserveRateLimitDelay records the duration of a per-host rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	captureRateLimitDelays.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
