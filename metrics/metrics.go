// Package metrics holds the Prometheus collectors of the query engine and
// its HTTP surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueriesTotal counts queries by statement kind and result status.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvql_queries_total",
			Help: "Total number of queries",
		},
		[]string{"statement", "status"},
	)
	// QueryDuration is the end-to-end latency of queries.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvql_query_duration_seconds",
			Help:    "Query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"statement"},
	)
	// QueryErrors counts failed queries by pipeline stage and error code.
	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvql_query_errors_total",
			Help: "Total number of failed queries",
		},
		[]string{"stage", "code"},
	)
	// StoreOperations counts store client calls.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvql_store_operations_total",
			Help: "Total number of store client calls",
		},
		[]string{"operation", "status"},
	)
	// StoreKeys counts the keys covered by store client calls.
	StoreKeys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvql_store_keys_total",
			Help: "Total number of keys read, scanned or written",
		},
		[]string{"operation"},
	)
	// FullScans counts unindexed table scans.
	FullScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvql_full_scans_total",
			Help: "Total number of full table scans",
		},
		[]string{"table"},
	)
	// RequestTotal counts HTTP requests by method, route and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvql_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	// RequestDuration is the latency of HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvql_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ObserveQuery records one finished query.
func ObserveQuery(statement, status string, elapsed time.Duration) {
	if statement == "" {
		statement = "unknown"
	}
	QueriesTotal.WithLabelValues(statement, status).Inc()
	QueryDuration.WithLabelValues(statement).Observe(elapsed.Seconds())
}

// ObserveError records the stage and code of a failed query.
func ObserveError(stage, code string) {
	QueryErrors.WithLabelValues(stage, code).Inc()
}

// StoreObserver feeds store activity into the store collectors.
type StoreObserver struct{}

func (StoreObserver) StoreOp(op string, keys int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOperations.WithLabelValues(op, status).Inc()
	StoreKeys.WithLabelValues(op).Add(float64(keys))
}

func (StoreObserver) FullScan(table string) {
	FullScans.WithLabelValues(table).Inc()
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
