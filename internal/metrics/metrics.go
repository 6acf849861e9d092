// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OracleCalls counts oracle calls by backend and result cause ("ok" on success).
	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyboard_oracle_calls_total",
		Help: "Oracle calls by backend and result",
	}, []string{"backend", "result"})

	// OracleDuration tracks oracle call latency.
	OracleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storyboard_oracle_call_duration_seconds",
		Help:    "Oracle call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
	}, []string{"backend"})

	// CardinalityAttempts tracks how many oracle calls a structured unit needed.
	CardinalityAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storyboard_cardinality_attempts",
		Help:    "Oracle attempts per structured unit",
		Buckets: []float64{1, 2, 3},
	})

	// CardinalityRepairs counts deterministic truncate/pad repairs.
	CardinalityRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyboard_cardinality_repairs_total",
		Help: "Structured units repaired after exhausting retries",
	}, []string{"kind"})

	// TemplateRegenerations counts template regeneration attempts by result.
	TemplateRegenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyboard_template_regenerations_total",
		Help: "Template regenerations by result",
	}, []string{"result"})

	// BatchItems counts finished batch items by outcome.
	BatchItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storyboard_batch_items_total",
		Help: "Batch items by outcome",
	}, []string{"outcome"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
