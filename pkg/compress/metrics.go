package compress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Compressions tracks compression jobs by result
	// Labels: result (ok, error, full, closed)
	Compressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_compressions_total",
			Help: "Total number of compression jobs by result",
		},
		[]string{"result"},
	)

	// CompressionDuration tracks how long a job spends in a worker
	CompressionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shield_compression_duration_seconds",
			Help:    "Time spent compressing a response body",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	// CompressionQueueDepth tracks queued compression jobs
	CompressionQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shield_compression_queue_depth",
			Help: "Number of compression jobs waiting for a worker",
		},
	)
)
