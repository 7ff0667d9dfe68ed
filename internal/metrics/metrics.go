// Package metrics exposes prometheus collectors for the recommendation
// pipeline. Collectors are registered on the default registry at init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Prediction client
	PredictionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reco_prediction_duration_seconds",
			Help:    "Duration of remote prediction calls in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"endpoint", "status"},
	)

	PredictionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_prediction_errors_total",
			Help: "Total number of failed prediction calls",
		},
		[]string{"endpoint", "kind"},
	)

	PredictionFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_prediction_fallbacks_total",
			Help: "Total number of times a fallback endpoint was tried",
		},
		[]string{"endpoint"},
	)

	// Caches
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"cache", "op"},
	)

	// Scorer
	RetrievedItems = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reco_retrieved_items",
			Help:    "Number of items returned per retrieval endpoint call",
			Buckets: []float64{0, 10, 50, 100, 250, 500, 1000},
		},
		[]string{"endpoint"},
	)

	StageItems = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reco_stage_items",
			Help:    "Number of items leaving each scorer stage",
			Buckets: []float64{0, 10, 50, 100, 250, 500, 1000},
		},
		[]string{"stage"},
	)

	ScoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reco_score_duration_seconds",
			Help:    "Duration of scorer stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Engine
	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reco_recommendations_total",
			Help: "Total number of engine calls by context and outcome",
		},
		[]string{"context", "reco_origin", "empty"},
	)

	AuditErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reco_audit_errors_total",
			Help: "Total number of failed audit writes",
		},
	)

	// API
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reco_api_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordPrediction records one prediction attempt.
func RecordPrediction(endpoint, status string, duration time.Duration) {
	PredictionDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

// RecordCache records a cache lookup.
func RecordCache(cache string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cache).Inc()
		return
	}
	CacheMisses.WithLabelValues(cache).Inc()
}

// RecordStage records the output size and duration of a scorer stage.
func RecordStage(stage string, items int, duration time.Duration) {
	StageItems.WithLabelValues(stage).Observe(float64(items))
	ScoreDuration.WithLabelValues(stage).Observe(duration.Seconds())
}
