package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by operation.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixstory_cache_hits_total",
			Help: "Total number of result cache hits",
		},
		[]string{"operation"},
	)

	// CacheMisses tracks cache misses by operation.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixstory_cache_misses_total",
			Help: "Total number of result cache misses",
		},
		[]string{"operation"},
	)

	// CacheErrors tracks failed cache reads and writes.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixstory_cache_errors_total",
			Help: "Total number of result cache errors",
		},
		[]string{"operation"},
	)
)
