// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RowsIngestedTotal    *prometheus.CounterVec
	RejectionsTotal      *prometheus.CounterVec
	BatchesTotal         *prometheus.CounterVec
	BatchDuration        *prometheus.HistogramVec
	SummaryDuration      prometheus.Histogram
	SummaryCacheHits     prometheus.Counter
	SummaryCacheMisses   prometheus.Counter
	StoredRecords        *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RowsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_rows_total",
				Help: "Total ingested rows by entity kind and result (accepted, rejected).",
			},
			[]string{"kind", "result"},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_rejections_total",
				Help: "Total rejected rows by entity kind and rejection code.",
			},
			[]string{"kind", "code"},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_batches_total",
				Help: "Total processed batches by entity kind and status (completed, terminated).",
			},
			[]string{"kind", "status"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_batch_duration_seconds",
				Help:    "Whole-batch processing time in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"kind"},
		),
		SummaryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "summary_compute_duration_seconds",
				Help:    "Dashboard summary computation time in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		SummaryCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "summary_cache_hits_total",
				Help: "Total dashboard summary cache hits.",
			},
		),
		SummaryCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "summary_cache_misses_total",
				Help: "Total dashboard summary cache misses.",
			},
		),
		StoredRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "store_records",
				Help: "Number of stored records per entity kind.",
			},
			[]string{"kind"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RowsIngestedTotal,
		m.RejectionsTotal,
		m.BatchesTotal,
		m.BatchDuration,
		m.SummaryDuration,
		m.SummaryCacheHits,
		m.SummaryCacheMisses,
		m.StoredRecords,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
