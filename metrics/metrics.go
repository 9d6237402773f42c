package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cpi",
		Name:      "ingest_rows_total",
		Help:      "Workbook rows written by the ingestion pipeline.",
	})
	ingestRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cpi",
		Name:      "ingest_runs_total",
		Help:      "Ingestion runs by outcome.",
	}, []string{"status"})
	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cpi",
		Name:      "ingest_duration_seconds",
		Help:      "Wall time of ingestion runs.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
	refreshQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cpi",
		Name:      "refresh_queue_depth",
		Help:      "Refresh tasks waiting for the worker.",
	})
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cpi",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cpi",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

func RowsIngested(n int) {
	ingestRowsTotal.Add(float64(n))
}

// IngestFinished records the outcome ("SUCCESS" or "ERROR") of one run.
func IngestFinished(status string, elapsed time.Duration) {
	ingestRunsTotal.WithLabelValues(status).Inc()
	ingestDuration.Observe(elapsed.Seconds())
}

func SetQueueDepth(n int) {
	refreshQueueDepth.Set(float64(n))
}

func ObserveRequest(route string, code int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
