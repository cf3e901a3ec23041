// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequestsTotal           *prometheus.CounterVec
	apiRetriesTotal            *prometheus.CounterVec
	apiRequestDurationSeconds  *prometheus.HistogramVec
	apiInFlight                prometheus.Gauge
	crawlerItemsFetchedTotal   *prometheus.CounterVec
	crawlerRecordsSavedTotal   *prometheus.CounterVec
	crawlerInvocationsFinished prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_api_requests_total",
				Help: "Total number of remote API calls, labeled by method and response status.",
			},
			[]string{"method", "status"},
		)

		apiRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_api_retries_total",
				Help: "Total number of retried API calls, labeled by reason.",
			},
			[]string{"reason"},
		)

		apiRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_api_request_duration_seconds",
				Help:    "Histogram of remote API call latencies, labeled by method.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method"},
		)

		apiInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_api_in_flight",
				Help: "Number of remote API calls currently in flight.",
			},
		)

		crawlerItemsFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_fetched_total",
				Help: "Total number of items fetched, labeled by entity kind.",
			},
			[]string{"kind"},
		)

		crawlerRecordsSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_saved_total",
				Help: "Total number of records handed to the output sink, labeled by table.",
			},
			[]string{"table"},
		)

		crawlerInvocationsFinished = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_invocations_finished_total",
				Help: "Total number of crawl invocations that reached the finished state.",
			},
		)
	})
}

// ObserveAPIRequest records one completed API call.
func ObserveAPIRequest(method, status string, duration time.Duration) {
	if apiRequestsTotal == nil {
		return
	}
	apiRequestsTotal.WithLabelValues(method, status).Inc()
	apiRequestDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}

// CountRetry records one retried API call with its trigger.
func CountRetry(reason string) {
	if apiRetriesTotal == nil {
		return
	}
	apiRetriesTotal.WithLabelValues(reason).Inc()
}

// IncInFlight marks one API call entering flight.
func IncInFlight() {
	if apiInFlight != nil {
		apiInFlight.Inc()
	}
}

// DecInFlight marks one API call leaving flight.
func DecInFlight() {
	if apiInFlight != nil {
		apiInFlight.Dec()
	}
}

// CountItemFetched records one fetched item of the given kind.
func CountItemFetched(kind string) {
	if crawlerItemsFetchedTotal != nil {
		crawlerItemsFetchedTotal.WithLabelValues(kind).Inc()
	}
}

// CountRecordsSaved records n rows handed to the sink for the given table.
func CountRecordsSaved(table string, n int) {
	if crawlerRecordsSavedTotal != nil {
		crawlerRecordsSavedTotal.WithLabelValues(table).Add(float64(n))
	}
}

// CountInvocationFinished records one invocation reaching finished.
func CountInvocationFinished() {
	if crawlerInvocationsFinished != nil {
		crawlerInvocationsFinished.Inc()
	}
}
