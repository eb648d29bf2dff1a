package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/pagecache/pkg/cache"
	"github.com/Sternrassler/pagecache/pkg/config"
	"github.com/Sternrassler/pagecache/pkg/httpcache"
	"github.com/Sternrassler/pagecache/pkg/logging"
	"github.com/Sternrassler/pagecache/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout = 10 * time.Second
	pingTimeout     = 5 * time.Second
	flashCookie     = "flash"
	flashHeader     = "X-Flash"
)

func main() {
	cfg, err := config.Load()
	logger := logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger(logging.ComponentServer)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info().
		Str("addr", srv.Addr).
		Str("backend", cache.BackendName(a.store)).
		Str("content_dir", cfg.Server.ContentDir).
		Msg("Starting pagecache server")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// app holds the wired cache stack and its HTTP routes.
type app struct {
	store   cache.Store
	facade  *cache.Facade
	handler http.Handler
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	cacheLog := logging.NewLogger(logging.ComponentCache)

	store, err := newStore(ctx, cfg, cacheLog)
	if err != nil {
		return nil, err
	}

	hasher, err := cache.NewHasher(cfg.Cache.KeyHash, cfg.Cache.KeyInterlace)
	if err != nil {
		store.Close()
		return nil, err
	}

	facade := cache.NewFacade(store, hasher, cache.FacadeConfig{MaxAge: cfg.Cache.MaxAge}, cacheLog)
	negotiator := httpcache.NewNegotiator(cfg.Negotiator(), logging.NewLogger(logging.ComponentHTTPCache))

	cacheLog.Info().
		Str("backend", cache.BackendName(store)).
		Str("key_hash", hasher.Algorithm()).
		Int("key_interlace", hasher.Interlace()).
		Bool("http_cache", negotiator.Enabled()).
		Msg("Cache stack ready")

	pages := httpcache.PageCache(facade, negotiator, httpcache.PageOptions{
		ContentVersion: cfg.HTTP.ContentVersion,
		ModTime:        resourceModTime(cfg.Server.ContentDir),
		IsAPI:          isAPIRequest,
		Flashes:        flashesFromCookie,
		DeliverFlashes: deliverFlashes,
		Logger:         logging.NewLogger(logging.ComponentHTTPCache),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/cache/stats", statsHandler(facade))
	mux.HandleFunc("/cache/clear", clearHandler(facade))
	mux.Handle("/", pages(http.FileServer(http.Dir(cfg.Server.ContentDir))))

	return &app{
		store:   store,
		facade:  facade,
		handler: mux,
	}, nil
}

func (a *app) Close() error {
	return a.facade.Close()
}

// newStore builds the configured backend. The external backend must answer
// a ping before the server starts.
func newStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (cache.Store, error) {
	storeCfg := cache.StoreConfig{
		Method:      cfg.StoreMethod(),
		Root:        cfg.Cache.Root,
		RedisPrefix: cfg.Cache.RedisPrefix,
		Logger:      logger,
	}

	if storeCfg.Method == cache.MethodExternal {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
		})

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Connected to Redis")
		storeCfg.Redis = redisClient
	}

	store, err := cache.NewStore(storeCfg)
	if err != nil {
		if storeCfg.Redis != nil {
			storeCfg.Redis.Close()
		}
		return nil, fmt.Errorf("create cache store: %w", err)
	}
	return store, nil
}

// resourceModTime returns the modification time of the file a request maps
// to below dir, stat'ed on every call. Directories resolve to their
// index.html. Paths that do not resolve to a file yield the zero time.
func resourceModTime(dir string) func(*http.Request) time.Time {
	root := http.Dir(dir)
	return func(r *http.Request) time.Time {
		name := path.Clean("/" + r.URL.Path)
		mtime, isDir := statModTime(root, name)
		if isDir {
			mtime, _ = statModTime(root, path.Join(name, "index.html"))
		}
		return mtime
	}
}

func statModTime(root http.FileSystem, name string) (time.Time, bool) {
	f, err := root.Open(name)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return time.Time{}, false
	}
	if info.IsDir() {
		return time.Time{}, true
	}
	return info.ModTime(), false
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func flashesFromCookie(r *http.Request) []string {
	c, err := r.Cookie(flashCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		msg = c.Value
	}
	return []string{msg}
}

// deliverFlashes hands pending messages to the client in X-Flash headers and
// expires the flash cookie so later requests are cacheable again.
func deliverFlashes(h http.Header, msgs []string) {
	for _, msg := range msgs {
		h.Add(flashHeader, url.QueryEscape(msg))
	}
	h.Add("Set-Cookie", (&http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1}).String())
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// cacheStats is the /cache/stats response body.
type cacheStats struct {
	Namespace string `json:"namespace"`
	SizeBytes int64  `json:"size_bytes"`
	Entries   int64  `json:"entries"`
}

func statsHandler(facade *cache.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		namespace := r.URL.Query().Get("namespace")
		size, err := facade.Size(r.Context(), namespace)
		if err != nil {
			writeCacheError(w, err)
			return
		}
		count, err := facade.Count(r.Context(), namespace)
		if err != nil {
			writeCacheError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cacheStats{
			Namespace: namespace,
			SizeBytes: size,
			Entries:   count,
		})
	}
}

func clearHandler(facade *cache.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := facade.Clear(r.Context(), r.FormValue("key"), r.FormValue("namespace")); err != nil {
			writeCacheError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeCacheError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cache.ErrInvalidKey), errors.Is(err, cache.ErrInvalidNamespace):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, fmt.Sprintf("cache operation failed: %v", err), http.StatusInternalServerError)
	}
}
