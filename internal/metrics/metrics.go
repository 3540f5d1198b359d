// Package metrics exposes Prometheus collectors for the watch service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal           *prometheus.CounterVec
	tasksCrawledTotal     *prometheus.CounterVec
	crawlDurationSeconds  prometheus.Histogram
	changedTasksTotal     prometheus.Counter
	crawlTimeoutsTotal    prometheus.Counter
	throttleDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watch_cycles_total",
				Help: "Total number of scheduling cycles, labeled by result.",
			},
			[]string{"result"},
		)

		tasksCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watch_tasks_crawled_total",
				Help: "Total number of task crawls, labeled by status.",
			},
			[]string{"status"},
		)

		crawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "watch_crawl_duration_seconds",
				Help:    "Histogram of single-task crawl latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		changedTasksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "watch_changed_tasks_total",
				Help: "Total number of tasks whose content changed.",
			},
		)

		crawlTimeoutsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "watch_crawl_timeouts_total",
				Help: "Total number of crawls abandoned at the cycle deadline.",
			},
		)

		throttleDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "watch_throttle_delays_seconds",
				Help:    "Histogram of host throttle wait durations.",
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

// SanitizeHost extracts a lowercase hostname from a raw URL, or "unknown".
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

// ObserveCycle increments the cycle counter for the given result.
func ObserveCycle(result string) {
	if cyclesTotal != nil {
		cyclesTotal.WithLabelValues(result).Inc()
	}
}

// ObserveCrawl records one task crawl with its status and duration.
func ObserveCrawl(status string, duration time.Duration) {
	if tasksCrawledTotal == nil {
		return
	}
	tasksCrawledTotal.WithLabelValues(status).Inc()
	crawlDurationSeconds.Observe(duration.Seconds())
}

// ObserveChangedTask increments the changed tasks counter.
func ObserveChangedTask() {
	if changedTasksTotal != nil {
		changedTasksTotal.Inc()
	}
}

// ObserveCrawlTimeout increments the abandoned crawl counter.
func ObserveCrawlTimeout() {
	if crawlTimeoutsTotal != nil {
		crawlTimeoutsTotal.Inc()
	}
}

// ObserveThrottleDelay records how long a crawl waited on its host permit.
func ObserveThrottleDelay(host string, duration time.Duration) {
	if throttleDelaysSeconds != nil {
		throttleDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
	}
}
