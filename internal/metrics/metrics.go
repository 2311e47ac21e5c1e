// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BatchesProcessed counts ingest batches that completed successfully.
	BatchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hoarderd_batches_processed_total",
		Help: "Ingest batches processed to completion.",
	})

	// RecordsProcessed counts records applied to device state.
	RecordsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hoarderd_records_processed_total",
		Help: "Telemetry records applied to device state.",
	})

	// RecordsSkipped counts records dropped before persistence, by reason.
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoarderd_records_skipped_total",
		Help: "Telemetry records skipped before persistence.",
	}, []string{"reason"})

	// WeatherFetches counts external weather fetches by provider and outcome.
	WeatherFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoarderd_weather_fetches_total",
		Help: "External weather provider calls.",
	}, []string{"provider", "outcome"})

	// WeatherCacheHits counts geo-bucketed weather cache hits.
	WeatherCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hoarderd_weather_cache_hits_total",
		Help: "Weather enrichments served from the shared file cache.",
	})

	// IPLookups counts IP intelligence lookups by outcome.
	IPLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoarderd_ip_lookups_total",
		Help: "IP intelligence lookups.",
	}, []string{"outcome"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
