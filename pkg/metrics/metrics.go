// Package metrics provides the Prometheus registry and HTTP handler for pagecache.
// All metrics are defined in their respective packages (cache, httpcache)
// to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by pagecache.
// All metrics are automatically registered via promauto in their respective packages.
// The scrape counters of Handler are registered here too.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics endpoint for the default gatherer.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		Registry,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}),
	)
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - pagecache_cache_hits_total{backend} (Counter): Reads answered by the store
//   - pagecache_cache_misses_total{backend} (Counter): Absent, stale or failed reads
//   - pagecache_cache_writes_total{backend} (Counter): Values persisted by the store
//   - pagecache_cache_errors_total{operation} (Counter): Backend failures by operation
//     (read, write, clear, size, count)
//
// HTTP Metrics (pkg/httpcache):
//   - pagecache_http_304_total (Counter): 304 Not Modified responses
//   - pagecache_http_negotiations_total{outcome} (Counter): Conditional negotiations
//     by outcome (pass_through, short_circuited, skipped, error)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(pagecache_cache_hits_total[5m])) /
//   (sum(rate(pagecache_cache_hits_total[5m])) + sum(rate(pagecache_cache_misses_total[5m])))
//
//   # Degraded Writes
//   rate(pagecache_cache_errors_total{operation="write"}[5m])
//
//   # 304 Response Rate
//   rate(pagecache_http_304_total[5m]) /
//   sum(rate(pagecache_http_negotiations_total{outcome!="skipped"}[5m]))
