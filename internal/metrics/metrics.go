package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PricingProviderRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moonitor_pricing_provider_runs_total",
			Help: "Price extraction attempts per provider, by outcome",
		},
		[]string{"provider", "outcome"},
	)

	PricingRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moonitor_pricing_run_duration_seconds",
			Help:    "Duration of full price update runs",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
	)

	PricingDuplicateIDs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moonitor_pricing_duplicate_model_ids_total",
			Help: "Model ids that appeared more than once in a price update run",
		},
	)

	PriceCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "moonitor_price_cache_entries",
			Help: "Entries in the active price cache snapshot",
		},
	)

	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moonitor_events_ingested_total",
			Help: "Logged LLM events, by whether a price was found",
		},
		[]string{"priced"},
	)
)
