package httpcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotModifiedResponses tracks 304 Not Modified responses sent to clients
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagecache_http_304_total",
			Help: "Total number of 304 Not Modified responses",
		},
	)

	// Negotiations tracks conditional negotiation outcomes
	Negotiations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_http_negotiations_total",
			Help: "Total number of conditional request negotiations by outcome",
		},
		[]string{"outcome"}, // "pass_through", "short_circuited", "skipped", "error"
	)
)
