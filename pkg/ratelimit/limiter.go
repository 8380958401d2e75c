// Package ratelimit spaces the start of provider calls and tracks the
// provider's own request quota.
//
// A Limiter enforces a minimum interval between consecutive dispatch starts
// across every run that shares it. It does not bound how many calls are in
// flight: once a caller is released it may run for as long as it needs.
// Construct one limiter per process (or one RedisSpacer per provider key
// across processes) and share it between runs, so that spacing carries over
// from the last call of one run to the first call of the next.
package ratelimit

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Limiter gates the start of rate-limited work.
type Limiter interface {
	// Acquire blocks until the caller may start. It returns ctx.Err() if the
	// context ends first, in which case the caller must not start.
	Acquire(ctx context.Context) error
}

// Acquire results used as metric labels.
const (
	resultGranted   = "granted"
	resultCancelled = "cancelled"
	resultError     = "error"
)

// Prometheus metrics for dispatch spacing.
var (
	dispatchWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixstory_dispatch_wait_seconds",
		Help:    "Time spent waiting for a dispatch slot",
		Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	dispatchAcquiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixstory_dispatch_acquires_total",
			Help: "Dispatch slot acquisitions by result",
		},
		[]string{"result"},
	)
)
