// Package cache provides a read-through content cache with pluggable
// filesystem and Redis backends.
//
// The facade implements the following behavior:
//
// - Deterministic key hashing with optional directory fan-out (interlacing)
// - TTL evaluated at read time from the stored-at time (lazy expiry)
// - Fail-open writes: backend failures return the original value
// - Failed reads degrade to a miss
// - Pass-through operation when caching is disabled
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	hasher, err := cache.NewHasher(cache.HashMD5, 2)
//	if err != nil {
//		return err
//	}
//
//	store, err := cache.NewStore(cache.StoreConfig{
//		Method: cache.MethodFilesystem,
//		Root:   "/var/lib/app/cache",
//	})
//	if err != nil {
//		return err
//	}
//
//	facade := cache.NewFacade(store, hasher, cache.FacadeConfig{MaxAge: time.Hour}, logger)
//
//	// Write never fails because of the backend
//	page, _ = facade.Write(ctx, page, "/index.html", "htmlpage", 0)
//
//	// Read reports a hit with the boolean
//	if page, ok, _ := facade.Read(ctx, "/index.html", "htmlpage"); ok {
//		// serve cached page
//	}
//
// # Key Layout
//
// With interlace factor 2 and no hashing, key "greeting" in namespace "demo"
// is stored at <root>/demo/g/r/eeting on disk and as <prefix>demo/g/r/eeting
// in Redis.
//
// # Metrics
//
//   - pagecache_cache_hits_total{backend} - Cache hits
//   - pagecache_cache_misses_total{backend} - Cache misses (absent or stale)
//   - pagecache_cache_writes_total{backend} - Successful writes
//   - pagecache_cache_errors_total{operation} - Backend failures
package cache
