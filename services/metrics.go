package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	geminiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elocutionist",
			Subsystem: "gemini",
			Name:      "requests_total",
			Help:      "Generation API calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	geminiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "elocutionist",
			Subsystem: "gemini",
			Name:      "request_duration_seconds",
			Help:      "Generation API call latency",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		},
		[]string{"operation"},
	)

	artifactOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elocutionist",
			Subsystem: "artifacts",
			Name:      "processed_total",
			Help:      "Artifact processing runs by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	artifactProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "elocutionist",
			Subsystem: "artifacts",
			Name:      "processing_duration_seconds",
			Help:      "Wall time of one artifact processing run",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"category"},
	)

	feedbackOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elocutionist",
			Subsystem: "recordings",
			Name:      "feedback_total",
			Help:      "Feedback generation requests by outcome",
		},
		[]string{"outcome"},
	)

	ratingOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elocutionist",
			Subsystem: "ratings",
			Name:      "generated_total",
			Help:      "Transcript rating requests by outcome",
		},
		[]string{"outcome"},
	)

	ratingsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "elocutionist",
			Subsystem: "ratings",
			Name:      "swept_total",
			Help:      "Expired transcript ratings removed by the sweep",
		},
	)

	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "elocutionist",
			Subsystem: "websocket",
			Name:      "connections",
			Help:      "Open transcript stream connections",
		},
	)
)

// MetricsHandler exposes the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
