// Package httpcache answers HTTP conditional requests and caches rendered
// pages.
//
// # Conditional Requests
//
// A Negotiator computes an ETag from the deployment identity, the resource
// path, its modification time and a caller-supplied salt:
//
//	negotiator := httpcache.NewNegotiator(httpcache.DefaultConfig(), logger)
//	resp := httpcache.NewResponse(w)
//
//	outcome, err := negotiator.Negotiate(resp, r, httpcache.Resource{
//		Path:    r.URL.Path,
//		ModTime: modTime,
//		Salt:    contentVersion,
//	})
//	if outcome == httpcache.ShortCircuited {
//		return // 304 already sent
//	}
//	// render the full response with resp.Write
//
// Negotiation is skipped for API and AJAX requests. A matching validator is
// ignored while the response has pending flash messages, so queued messages
// are never swallowed by a 304.
//
// # Page Cache
//
// PageCache wraps a handler: conditional negotiation runs first, then the
// page is served from a cache.Facade, and on a miss the handler output is
// stored (200 GET responses only).
//
// # Metrics
//
//   - pagecache_http_304_total - 304 Not Modified responses
//   - pagecache_http_negotiations_total{outcome} - Negotiation outcomes
package httpcache
