package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrMissingKey indicates Read or Write was called with an empty key
var ErrMissingKey = errors.New("cache key is required")

// DefaultMaxAge is used when FacadeConfig.MaxAge is not set
const DefaultMaxAge = time.Hour

// FacadeConfig holds Facade settings.
type FacadeConfig struct {
	// MaxAge is the default entry age limit for reads and expiry for writes.
	MaxAge time.Duration

	// Notifier receives degraded backend failures. Defaults to a LogNotifier.
	Notifier Notifier
}

// Facade is the cache entry point used by application code.
//
// Backend failures never reach the caller: a failed read is a miss and a
// failed write returns the original value. Only caller mistakes (an empty or
// unsafe key) are reported as errors.
type Facade struct {
	store    Store
	hasher   *Hasher
	maxAge   time.Duration
	notifier Notifier
	backend  string
	logger   zerolog.Logger

	loads singleflight.Group
}

// NewFacade creates a Facade over store.
func NewFacade(store Store, hasher *Hasher, cfg FacadeConfig, logger zerolog.Logger) *Facade {
	if store == nil {
		panic("cache store cannot be nil")
	}
	if hasher == nil {
		panic("cache hasher cannot be nil")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Logger: logger}
	}

	return &Facade{
		store:    store,
		hasher:   hasher,
		maxAge:   cfg.MaxAge,
		notifier: cfg.Notifier,
		backend:  BackendName(store),
		logger:   logger,
	}
}

// MaxAge returns the default age limit.
func (f *Facade) MaxAge() time.Duration {
	return f.maxAge
}

// Read returns the cached value for key in namespace using the default age
// limit. The boolean reports a hit.
func (f *Facade) Read(ctx context.Context, key, namespace string) ([]byte, bool, error) {
	return f.ReadWithin(ctx, key, namespace, f.maxAge)
}

// ReadWithin is like Read with an explicit age limit. A non-positive maxAge
// uses the default.
func (f *Facade) ReadWithin(ctx context.Context, key, namespace string, maxAge time.Duration) ([]byte, bool, error) {
	hashed, err := f.hash(key, namespace)
	if err != nil {
		return nil, false, err
	}
	if maxAge <= 0 {
		maxAge = f.maxAge
	}

	data, err := f.store.Get(ctx, hashed, namespace, maxAge)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) && !isCanceled(err) {
			CacheErrors.WithLabelValues("read").Inc()
			f.notifier.Notify(ctx, "read", err)
		}
		CacheMisses.WithLabelValues(f.backend).Inc()
		f.logger.Debug().
			Str("namespace", namespace).
			Str("key", key).
			Bool("cache_hit", false).
			Msg("Cache read")
		return nil, false, nil
	}

	CacheHits.WithLabelValues(f.backend).Inc()
	f.logger.Debug().
		Str("namespace", namespace).
		Str("key", key).
		Bool("cache_hit", true).
		Int("bytes", len(data)).
		Msg("Cache read")
	return data, true, nil
}

// Write stores value and returns it. Backend failures are notified and
// swallowed. A non-positive maxAge uses the default.
func (f *Facade) Write(ctx context.Context, value []byte, key, namespace string, maxAge time.Duration) ([]byte, error) {
	res, err := f.WriteResult(ctx, value, key, namespace, maxAge)
	if err != nil {
		return value, err
	}
	return res.Value, nil
}

// WriteResult is Write with the degradation cause exposed for observability.
func (f *Facade) WriteResult(ctx context.Context, value []byte, key, namespace string, maxAge time.Duration) (Result, error) {
	hashed, err := f.hash(key, namespace)
	if err != nil {
		return Result{Value: value}, err
	}
	if maxAge <= 0 {
		maxAge = f.maxAge
	}

	if _, err := f.store.Put(ctx, value, hashed, namespace, maxAge); err != nil {
		if !isCanceled(err) {
			CacheErrors.WithLabelValues("write").Inc()
			f.notifier.Notify(ctx, "write", err)
		}
		return Result{Value: value, Cause: err}, nil
	}

	CacheWrites.WithLabelValues(f.backend).Inc()
	f.logger.Debug().
		Str("namespace", namespace).
		Str("key", key).
		Dur("max_age", maxAge).
		Msg("Cached value")
	return Result{Value: value}, nil
}

// Remember returns the cached value for key, or calls loader, caches its
// result and returns it. Concurrent callers for the same key share a single
// loader call. Loader errors are returned and nothing is cached.
func (f *Facade) Remember(ctx context.Context, key, namespace string, maxAge time.Duration, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	data, ok, err := f.ReadWithin(ctx, key, namespace, maxAge)
	if err != nil {
		return nil, err
	}
	if ok {
		return data, nil
	}

	v, err, _ := f.loads.Do(namespace+"\x00"+key, func() (any, error) {
		val, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return f.Write(ctx, val, key, namespace, maxAge)
	})
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", key, err)
	}
	return v.([]byte), nil
}

// Clear removes key from namespace, the whole namespace when key is empty,
// or everything when both are empty.
func (f *Facade) Clear(ctx context.Context, key, namespace string) error {
	hashed := ""
	if key != "" {
		var err error
		if hashed, err = f.hash(key, namespace); err != nil {
			return err
		}
	}

	if err := f.store.Clear(ctx, hashed, namespace); err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("clear cache: %w", err)
	}

	f.logger.Info().
		Str("namespace", namespace).
		Str("key", key).
		Msg("Cache cleared")
	return nil
}

// Size returns the cached bytes below namespace (empty = everything).
func (f *Facade) Size(ctx context.Context, namespace string) (int64, error) {
	n, err := f.store.Size(ctx, namespace)
	if err != nil {
		CacheErrors.WithLabelValues("size").Inc()
		return 0, fmt.Errorf("cache size: %w", err)
	}
	return n, nil
}

// Count returns the number of entries below namespace (empty = everything).
func (f *Facade) Count(ctx context.Context, namespace string) (int64, error) {
	n, err := f.store.Count(ctx, namespace)
	if err != nil {
		CacheErrors.WithLabelValues("count").Inc()
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}

// Close releases the store.
func (f *Facade) Close() error {
	return f.store.Close()
}

func (f *Facade) hash(key, namespace string) (string, error) {
	if key == "" {
		return "", ErrMissingKey
	}
	return f.hasher.Hash(key, namespace)
}

// BackendName returns the metric label for store.
func BackendName(store Store) string {
	switch store.(type) {
	case Disabled, *Disabled:
		return string(MethodDisabled)
	case *Filesystem:
		return string(MethodFilesystem)
	case *Redis:
		return string(MethodExternal)
	default:
		return "custom"
	}
}

// isCanceled reports whether err comes from the caller's context rather
// than the backend.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
