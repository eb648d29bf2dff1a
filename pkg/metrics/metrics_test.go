package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Sternrassler/pagecache/pkg/cache"
	"github.com/Sternrassler/pagecache/pkg/httpcache"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistry(t *testing.T) {
	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}

	// Scrape counters land in Registry; building the handler twice reuses them.
	Handler()
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(w.Body.String(), "promhttp_metric_handler_requests_total") {
		t.Error("Expected scrape counters registered in Registry")
	}
}

func TestHandler(t *testing.T) {
	// Touch labelled series so they appear in the output.
	cache.CacheHits.WithLabelValues("filesystem")
	cache.CacheErrors.WithLabelValues("write")
	httpcache.Negotiations.WithLabelValues("pass_through")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	for _, name := range []string{
		"pagecache_cache_hits_total",
		"pagecache_cache_errors_total",
		"pagecache_http_304_total",
		"pagecache_http_negotiations_total",
	} {
		if !strings.Contains(bodyStr, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}
