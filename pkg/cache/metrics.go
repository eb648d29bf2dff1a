package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by backend (filesystem, external)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"},
	)

	// CacheMisses tracks cache misses by backend, including stale entries
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)

	// CacheWrites tracks successful cache writes by backend
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_cache_writes_total",
			Help: "Total number of successful cache writes",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks backend failures that were degraded to a miss or pass-through
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "read", "write", "clear", "size", "count"
	)
)
