package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherwise_provider_requests_total",
			Help: "Provider lookups by category, operation and outcome",
		},
		[]string{"category", "operation", "outcome"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherwise_provider_latency_seconds",
			Help:    "Provider lookup latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category", "operation"},
	)

	SupersededRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherwise_superseded_requests_total",
			Help: "In-flight requests cancelled by a newer request or an explicit abort",
		},
		[]string{"category"},
	)

	EngineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherwise_engine_outcomes_total",
			Help: "Outcomes derived by the orchestration engine per user action",
		},
		[]string{"action", "case"},
	)

	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherwise_store_writes_total",
			Help: "Cache store mutations by operation and result",
		},
		[]string{"operation", "result"},
	)

	ConnectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherwise_connectivity_transitions_total",
			Help: "Observed online/offline transitions",
		},
		[]string{"state"},
	)
)

// Result maps a success flag to a label value.
func Result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
