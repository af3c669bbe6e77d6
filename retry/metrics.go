package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elocutionist",
			Subsystem: "retry",
			Name:      "outcomes_total",
			Help:      "Retry loop outcomes by operation label",
		},
		[]string{"operation", "outcome"},
	)

	reschedulesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "elocutionist",
			Subsystem: "retry",
			Name:      "reschedules_total",
			Help:      "Deferred re-runs scheduled, by key prefix",
		},
		[]string{"kind"},
	)
)
