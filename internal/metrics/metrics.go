// Package metrics exposes Prometheus collectors for the scout service.
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
	scoutJobsTotal             *prometheus.CounterVec
	scoutPagesMergedTotal      prometheus.Counter
	scoutJobsReclaimedTotal    *prometheus.CounterVec
	scoutActiveWorkers         prometheus.Gauge
	scoutJobDurationSeconds    *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scoutJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_jobs_total",
				Help: "Total number of scrape jobs finished, labeled by type and outcome.",
			},
			[]string{"job_type", "outcome"},
		)

		scoutPagesMergedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scout_pages_merged_total",
				Help: "Total number of page records written by the merge path.",
			},
		)

		scoutJobsReclaimedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scout_jobs_reclaimed_total",
				Help: "Total number of stale jobs reclaimed by the reaper, labeled by type.",
			},
			[]string{"job_type"},
		)

		scoutActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scout_active_workers",
				Help: "Number of workers currently executing a job.",
			},
		)

		scoutJobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scout_job_duration_seconds",
				Help:    "Histogram of job execution latencies, labeled by type.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"job_type"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records a finished job.
func ObserveJob(jobType, outcome string, duration time.Duration) {
	Init()
	scoutJobsTotal.WithLabelValues(jobType, outcome).Inc()
	scoutJobDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
}

// ObservePageMerged increments the merged pages counter.
func ObservePageMerged() {
	Init()
	scoutPagesMergedTotal.Inc()
}

// ObserveReclaimed adds reclaimed jobs to the reaper counter.
func ObserveReclaimed(jobType string, count int) {
	Init()
	if count > 0 {
		scoutJobsReclaimedTotal.WithLabelValues(jobType).Add(float64(count))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	scoutActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	scoutActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
