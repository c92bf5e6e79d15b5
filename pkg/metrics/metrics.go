// Package metrics provides the Prometheus registry and exposition handler
// for the shield. All metrics are defined in their respective packages
// (cache, compress, shield, upstream) via promauto to keep packages
// independent.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the shield.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the counterpart of Registry used for exposition.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an http.Handler serving the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Shield Metrics (pkg/shield):
//   - shield_requests_total{admission} (Counter): Requests by admission (pass, hit, queue, through, refuse)
//   - shield_outcomes_total{kind} (Counter): Leader cycles by outcome (success, error, redirect, timeout)
//   - shield_leader_duration_seconds (Histogram): Leader cycle duration
//   - shield_queue_depth (Histogram): Waiters served per fan-out
//   - shield_inflight_keys (Gauge): Keys with an active leader
//   - shield_late_completions_total (Counter): Downstream outcomes discarded after settle
//
// Cache Metrics (pkg/cache):
//   - shield_cache_hits_total (Counter): Store lookups that found a fresh entry
//   - shield_cache_misses_total (Counter): Store lookups that found nothing fresh
//   - shield_cache_entries (Gauge): Entries held, including expired ones not yet freed
//   - shield_cache_evictions_total{reason} (Counter): Entries dropped by Free (expired, overflow)
//
// Compression Metrics (pkg/compress):
//   - shield_compressions_total{result} (Counter): Compression jobs (ok, error, full, closed)
//   - shield_compression_duration_seconds (Histogram): Time spent compressing one body
//   - shield_compression_queue_depth (Gauge): Jobs waiting for a worker
//
// Upstream Metrics (pkg/upstream):
//   - shield_upstream_requests_total{status} (Counter): Origin requests by HTTP status
//   - shield_upstream_request_duration_seconds (Histogram): Origin request duration
//   - shield_upstream_errors_total{class} (Counter): Origin errors by class (client, server, network)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(shield_requests_total{admission="hit"}[5m])) /
//   sum(rate(shield_requests_total{admission!="pass"}[5m]))
//
//   # Coalescing Factor (requests served per downstream call)
//   sum(rate(shield_requests_total{admission=~"through|queue"}[5m])) /
//   sum(rate(shield_requests_total{admission="through"}[5m]))
//
//   # Rejection Rate
//   rate(shield_requests_total{admission="refuse"}[5m])
//
//   # Timeout Rate
//   rate(shield_outcomes_total{kind="timeout"}[5m])
//
//   # P95 Leader Latency
//   histogram_quantile(0.95, rate(shield_leader_duration_seconds_bucket[5m]))
