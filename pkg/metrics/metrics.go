// Package metrics exposes the Prometheus registry used by the orchestrator.
// Metrics are declared with promauto next to the code that updates them
// (ratelimit, dispatch, pipeline, orchestrator, provider, cache); this
// package only documents them and serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all pixstory metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer Handler reads from.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Rate Limiter (pkg/ratelimit):
//   - pixstory_dispatch_wait_seconds (Histogram): time spent waiting for a dispatch slot
//   - pixstory_dispatch_acquires_total{result} (Counter): slot acquisitions (granted, cancelled, error)
//   - pixstory_provider_requests_remaining (Gauge): last reported provider request quota
//   - pixstory_provider_quota_blocks_total (Counter): calls refused because the quota was exhausted
//
// Dispatcher (pkg/dispatch):
//   - pixstory_dispatch_items_total{result} (Counter): items by outcome (succeeded, failed)
//   - pixstory_dispatch_item_duration_seconds (Histogram): worker duration per item
//   - pixstory_dispatch_batch_duration_seconds (Histogram): duration of a whole batch
//
// Pipeline (pkg/pipeline):
//   - pixstory_pipeline_transitions_total{to} (Counter): state transitions
//   - pixstory_synthesis_duration_seconds (Histogram): synthesis call duration
//
// Controller (pkg/orchestrator):
//   - pixstory_runs_total{pipeline, outcome} (Counter): finished runs by outcome
//   - pixstory_runs_in_flight (Gauge): runs currently executing
//   - pixstory_run_duration_seconds{pipeline} (Histogram): end-to-end run duration
//
// Provider (pkg/provider/...):
//   - pixstory_provider_requests_total{operation, status} (Counter)
//   - pixstory_provider_request_duration_seconds{operation} (Histogram)
//   - pixstory_provider_errors_total{class} (Counter)
//
// Result cache (pkg/cache):
//   - pixstory_cache_hits_total{operation} (Counter)
//   - pixstory_cache_misses_total{operation} (Counter)
//   - pixstory_cache_errors_total{operation} (Counter)
//
// Example Prometheus Queries:
//
//   # Run failure ratio
//   sum(rate(pixstory_runs_total{outcome!="succeeded"}[5m])) / sum(rate(pixstory_runs_total[5m]))
//
//   # P95 slot wait
//   histogram_quantile(0.95, rate(pixstory_dispatch_wait_seconds_bucket[5m]))
//
//   # Provider rate limiting
//   rate(pixstory_provider_errors_total{class="rate_limit"}[5m])
