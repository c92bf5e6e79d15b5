package shield

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks admissions
	// Labels: admission (pass, hit, queue, through, refuse)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_requests_total",
			Help: "Total number of requests by admission decision",
		},
		[]string{"admission"},
	)

	// OutcomesTotal tracks settled leader cycles
	// Labels: kind (success, error, redirect, timeout)
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_outcomes_total",
			Help: "Total number of leader cycles by outcome",
		},
		[]string{"kind"},
	)

	// LeaderDuration tracks time from leader start to settle
	LeaderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shield_leader_duration_seconds",
			Help:    "Leader cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueueDepth tracks the number of waiters per fan-out
	QueueDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shield_queue_depth",
			Help:    "Number of waiters served by one fan-out",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)

	// InFlight tracks keys with an active leader
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shield_inflight_keys",
			Help: "Number of keys with an active leader cycle",
		},
	)

	// LateCompletions tracks downstream signals discarded after settle
	LateCompletions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shield_late_completions_total",
			Help: "Downstream outcomes discarded because the cycle was already settled",
		},
	)
)
