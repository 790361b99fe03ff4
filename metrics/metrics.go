// Package metrics holds the Prometheus collectors for extraction passes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgatlas_extraction_passes_total",
			Help: "Extraction passes by final document status",
		},
		[]string{"status"},
	)

	ChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgatlas_chunks_total",
			Help: "Chunk tasks by outcome",
		},
		[]string{"outcome"},
	)

	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orgatlas_provider_request_seconds",
			Help:    "Model request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	TokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgatlas_llm_tokens_total",
			Help: "Model tokens consumed",
		},
		[]string{"direction"},
	)

	EntitiesMaterialized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orgatlas_entities_materialized_total",
			Help: "Entities written by extraction passes",
		},
	)

	EdgesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orgatlas_edges_dropped_total",
			Help: "Relationships dropped because an endpoint was not materialized",
		},
	)

	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgatlas_cache_requests_total",
			Help: "Model response cache lookups",
		},
		[]string{"result"},
	)
)

// Collectors returns every collector defined by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		PassesTotal,
		ChunksTotal,
		ProviderLatency,
		TokensUsed,
		EntitiesMaterialized,
		EdgesDropped,
		CacheRequests,
	}
}

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
