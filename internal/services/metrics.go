package services

import "github.com/prometheus/client_golang/prometheus"

var (
	streakTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_transitions_total",
			Help: "Streak visits by outcome (first, same_day, consecutive, broken).",
		},
		[]string{"kind"},
	)
	completionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "completion_requests_total",
			Help: "Completion calls by outcome (ok, error, too_large).",
		},
		[]string{"outcome"},
	)
	completionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "completion_duration_seconds",
			Help:    "Latency of completion provider calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)
)

func init() {
	prometheus.MustRegister(streakTransitions, completionRequests, completionDuration)
}
