package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/pagecache/pkg/cache"
	"github.com/Sternrassler/pagecache/pkg/config"
	"github.com/rs/zerolog"
)

func setupTestApp(t *testing.T) (*app, string) {
	t.Helper()

	content := t.TempDir()
	if err := os.WriteFile(filepath.Join(content, "index.html"), []byte("<html>home</html>"), 0o644); err != nil {
		t.Fatalf("Failed to write content: %v", err)
	}
	if err := os.WriteFile(filepath.Join(content, "about.html"), []byte("<html>about</html>"), 0o644); err != nil {
		t.Fatalf("Failed to write content: %v", err)
	}

	cfg := config.Default()
	cfg.Cache.Root = filepath.Join(t.TempDir(), "cache")
	cfg.Server.ContentDir = content

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	return a, content
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestPageRoute(t *testing.T) {
	a, _ := setupTestApp(t)

	first := httptest.NewRecorder()
	a.handler.ServeHTTP(first, httptest.NewRequest("GET", "/about.html", nil))

	if first.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", first.Code)
	}
	if got := first.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("Expected X-Cache MISS, got %q", got)
	}
	if first.Body.String() != "<html>about</html>" {
		t.Errorf("Unexpected body %q", first.Body.String())
	}

	second := httptest.NewRecorder()
	a.handler.ServeHTTP(second, httptest.NewRequest("GET", "/about.html", nil))
	if got := second.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("Expected X-Cache HIT, got %q", got)
	}
	if !strings.HasPrefix(second.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Expected text/html content type, got %q", second.Header().Get("Content-Type"))
	}

	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("Expected ETag header on page response")
	}
	req := httptest.NewRequest("GET", "/about.html", nil)
	req.Header.Set("If-None-Match", etag)
	third := httptest.NewRecorder()
	a.handler.ServeHTTP(third, req)

	if third.Code != http.StatusNotModified {
		t.Errorf("Expected status 304, got %d", third.Code)
	}
	if third.Body.Len() != 0 {
		t.Errorf("Expected empty 304 body, got %q", third.Body.String())
	}
}

func TestPageRoute_FlashCookie(t *testing.T) {
	a, _ := setupTestApp(t)

	first := httptest.NewRecorder()
	a.handler.ServeHTTP(first, httptest.NewRequest("GET", "/about.html", nil))

	req := httptest.NewRequest("GET", "/about.html", nil)
	req.Header.Set("If-None-Match", first.Header().Get("ETag"))
	req.AddCookie(&http.Cookie{Name: flashCookie, Value: url.QueryEscape("Profile saved")})
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected full 200 response with a pending flash, got %d", w.Code)
	}
	if got := w.Header().Get(flashHeader); got != url.QueryEscape("Profile saved") {
		t.Errorf("Expected flash header %q, got %q", url.QueryEscape("Profile saved"), got)
	}

	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == flashCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Errorf("Expected expired flash cookie, got Set-Cookie %q", w.Header().Values("Set-Cookie"))
	}

	// Once the browser drops the cookie the page revalidates again.
	req = httptest.NewRequest("GET", "/about.html", nil)
	req.Header.Set("If-None-Match", first.Header().Get("ETag"))
	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Errorf("Expected status 304 after the flash was delivered, got %d", w.Code)
	}
}

func TestPageRoute_ContentEdit(t *testing.T) {
	a, content := setupTestApp(t)

	first := httptest.NewRecorder()
	a.handler.ServeHTTP(first, httptest.NewRequest("GET", "/about.html", nil))
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("Expected ETag header on page response")
	}

	page := filepath.Join(content, "about.html")
	if err := os.WriteFile(page, []byte("<html>about us</html>"), 0o644); err != nil {
		t.Fatalf("Failed to rewrite content: %v", err)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(page, later, later); err != nil {
		t.Fatalf("Failed to set mtime: %v", err)
	}

	req := httptest.NewRequest("GET", "/about.html", nil)
	req.Header.Set("If-None-Match", etag)
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for edited content, got %d", w.Code)
	}
	if w.Body.String() != "<html>about us</html>" {
		t.Errorf("Expected edited body, got %q", w.Body.String())
	}
	if got := w.Header().Get("ETag"); got == etag {
		t.Error("Expected a new ETag after the edit")
	}
	if got := w.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("Expected X-Cache MISS for edited content, got %q", got)
	}
}

func TestPageRoute_NotFound(t *testing.T) {
	a, _ := setupTestApp(t)

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest("GET", "/missing.html", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
	if got := w.Header().Get("ETag"); got != "" {
		t.Errorf("Expected no ETag on 404, got %q", got)
	}
}

func TestStatsAndClearEndpoints(t *testing.T) {
	a, _ := setupTestApp(t)

	for _, path := range []string{"/about.html", "/"} {
		a.handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	stats := func(namespace string) cacheStats {
		t.Helper()
		req := httptest.NewRequest("GET", "/cache/stats?namespace="+namespace, nil)
		w := httptest.NewRecorder()
		a.handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var s cacheStats
		if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
			t.Fatalf("Failed to decode stats: %v", err)
		}
		return s
	}

	s := stats("htmlpage")
	if s.Entries != 2 {
		t.Errorf("Expected 2 cached pages, got %d", s.Entries)
	}
	if s.SizeBytes <= 0 {
		t.Errorf("Expected positive cache size, got %d", s.SizeBytes)
	}
	if s.Namespace != "htmlpage" {
		t.Errorf("Expected namespace htmlpage, got %q", s.Namespace)
	}

	form := url.Values{"namespace": {"htmlpage"}}
	req := httptest.NewRequest("POST", "/cache/clear", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d: %s", w.Code, w.Body.String())
	}
	if s := stats(""); s.Entries != 0 {
		t.Errorf("Expected empty cache after clear, got %d entries", s.Entries)
	}
}

func TestCacheEndpoints_Errors(t *testing.T) {
	a, _ := setupTestApp(t)

	tests := []struct {
		name   string
		method string
		target string
		status int
	}{
		{"stats wrong method", "POST", "/cache/stats", http.StatusMethodNotAllowed},
		{"clear wrong method", "GET", "/cache/clear", http.StatusMethodNotAllowed},
		{"stats invalid namespace", "GET", "/cache/stats?namespace=../etc", http.StatusBadRequest},
		{"clear invalid namespace", "POST", "/cache/clear?namespace=a/../../b", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			a.handler.ServeHTTP(w, httptest.NewRequest(tt.method, tt.target, nil))
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a, _ := setupTestApp(t)

	// Serve one page so the labelled cache series exist.
	a.handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	if !strings.Contains(bodyStr, "pagecache_cache_writes_total") {
		t.Error("Expected metrics output to contain pagecache_cache_writes_total")
	}
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		want    string
		wantErr bool
	}{
		{name: "disabled", method: "disabled", want: "disabled"},
		{name: "filesystem", method: "filesystem", want: "filesystem"},
		{name: "external unreachable", method: "external", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Cache.Method = tt.method
			cfg.Cache.Root = t.TempDir()
			// Reserved port; nothing listens there.
			cfg.Cache.RedisAddr = "127.0.0.1:1"

			store, err := newStore(context.Background(), cfg, zerolog.Nop())
			if tt.wantErr {
				if err == nil {
					store.Close()
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("newStore() error = %v", err)
			}
			defer store.Close()

			if got := cache.BackendName(store); got != tt.want {
				t.Errorf("Expected backend %q, got %q", tt.want, got)
			}
		})
	}
}

func TestResourceModTime(t *testing.T) {
	dir := t.TempDir()
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := os.Mkdir(filepath.Join(dir, "docs"), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	for name, mtime := range map[string]time.Time{"a.html": older, "docs/index.html": newer} {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("Failed to set mtime: %v", err)
		}
	}

	modTime := resourceModTime(dir)
	tests := []struct {
		path string
		want time.Time
	}{
		{"/a.html", older},
		{"/docs/", newer},
		{"/docs", newer},
		{"/missing.html", time.Time{}},
		{"/", time.Time{}},
		{"/../a.html", older},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.URL.Path = tt.path
			if got := modTime(req); !got.Equal(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFlashesFromCookie(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if got := flashesFromCookie(req); got != nil {
		t.Errorf("Expected no flashes, got %v", got)
	}

	req.AddCookie(&http.Cookie{Name: flashCookie, Value: url.QueryEscape("Saved!")})
	got := flashesFromCookie(req)
	if len(got) != 1 || got[0] != "Saved!" {
		t.Errorf("Expected [Saved!], got %v", got)
	}
}

func TestDeliverFlashes(t *testing.T) {
	h := make(http.Header)
	deliverFlashes(h, []string{"Saved!", "Welcome back"})

	if got := h.Values(flashHeader); len(got) != 2 || got[0] != url.QueryEscape("Saved!") {
		t.Errorf("Expected two flash headers, got %v", got)
	}
	resp := http.Response{Header: h}
	cookies := resp.Cookies()
	if len(cookies) != 1 || cookies[0].Name != flashCookie || cookies[0].MaxAge >= 0 {
		t.Errorf("Expected expired flash cookie, got %v", cookies)
	}
}
