package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	apiRequestsTotal       *prometheus.CounterVec
	apiLatencySeconds      *prometheus.HistogramVec
	apiErrorsTotal         *prometheus.CounterVec
	partialFailuresTotal   *prometheus.CounterVec
	partialResponsesTotal  *prometheus.CounterVec
	cleanupDeletedTotal    *prometheus.CounterVec
	outboxTasksTotal       *prometheus.CounterVec
	analyticsCacheTotal    *prometheus.CounterVec
	reviewTransitionsTotal *prometheus.CounterVec
	reviewStreamClients    prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the ledger.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_api_requests_total",
			Help: "Total number of ledger API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_api_latency_seconds",
			Help:    "Latency distribution for ledger API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_api_errors_total",
			Help: "Total number of error responses returned by ledger endpoints.",
		}, []string{"method", "route", "status"})

		partialFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_partial_failures_total",
			Help: "Writes where one copy of a response could not be updated.",
		}, []string{"operation"})

		partialResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_api_partial_responses_total",
			Help: "Ledger API writes answered while one response copy still needs repair.",
		}, []string{"method", "route"})

		cleanupDeletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_cleanup_deleted_total",
			Help: "Response copies removed by cascade deletes and sweeps.",
		}, []string{"scope"})

		outboxTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_outbox_tasks_total",
			Help: "Mirror outbox tasks by outcome.",
		}, []string{"result"})

		analyticsCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_analytics_cache_total",
			Help: "Weakness analysis cache lookups by outcome.",
		}, []string{"result"})

		reviewTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_review_transitions_total",
			Help: "Review state transitions by target status.",
		}, []string{"to"})

		reviewStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_review_stream_clients",
			Help: "Connected review event stream clients.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			partialFailuresTotal,
			partialResponsesTotal,
			cleanupDeletedTotal,
			outboxTasksTotal,
			analyticsCacheTotal,
			reviewTransitionsTotal,
			reviewStreamClients,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// PartialFailures counts writes that reached only one copy.
func PartialFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return partialFailuresTotal
}

// PartialResponses counts API writes that were only partly applied, per route.
func PartialResponses() *prometheus.CounterVec {
	RegisterMetrics()
	return partialResponsesTotal
}

// CleanupDeleted counts copies removed by cleanup, labelled global or scoped.
func CleanupDeleted() *prometheus.CounterVec {
	RegisterMetrics()
	return cleanupDeletedTotal
}

// OutboxTasks counts mirror outbox tasks by result.
func OutboxTasks() *prometheus.CounterVec {
	RegisterMetrics()
	return outboxTasksTotal
}

// AnalyticsCache counts analytics cache hits and misses.
func AnalyticsCache() *prometheus.CounterVec {
	RegisterMetrics()
	return analyticsCacheTotal
}

// ReviewTransitions counts review status changes.
func ReviewTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return reviewTransitionsTotal
}

// ReviewStreamClients tracks open review event streams.
func ReviewStreamClients() prometheus.Gauge {
	RegisterMetrics()
	return reviewStreamClients
}
