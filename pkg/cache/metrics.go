package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks store lookups that returned a live entry
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shield_cache_hits_total",
			Help: "Total number of response store hits",
		},
	)

	// CacheMisses tracks lookups that found nothing or an expired entry
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shield_cache_misses_total",
			Help: "Total number of response store misses",
		},
	)

	// CacheEntries tracks the number of stored entries after the last mutation
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shield_cache_entries",
			Help: "Number of entries currently held by the response store",
		},
	)

	// CacheEvictions tracks entries dropped by Free runs
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_cache_evictions_total",
			Help: "Total number of entries removed by batch eviction",
		},
		[]string{"reason"}, // "expired", "overflow"
	)
)
