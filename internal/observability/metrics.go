package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StoreFallbacks counts durable-store operations that fell through to the fallback store.
	StoreFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evalboard_store_fallbacks_total",
		Help: "Durable store operations served by the fallback store, by operation.",
	}, []string{"operation"})

	// NarrativeFallbacks counts generations served by the deterministic fallback.
	NarrativeFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evalboard_narrative_fallbacks_total",
		Help: "Narratives produced by the local fallback generator, by kind and reason.",
	}, []string{"kind", "reason"})

	// NarrativeLatency observes external generation latency.
	NarrativeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evalboard_narrative_generation_seconds",
		Help:    "Latency of external narrative generation calls.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	}, []string{"kind"})

	// EnrichmentTasks counts finished enrichment tasks by outcome.
	EnrichmentTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evalboard_enrichment_tasks_total",
		Help: "Background enrichment tasks by outcome.",
	}, []string{"outcome"})

	// ReportsGenerated counts aggregate reports appended to the history.
	ReportsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evalboard_reports_generated_total",
		Help: "Aggregate reports appended to the report history.",
	})
)

// MetricsHandler serves the Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
