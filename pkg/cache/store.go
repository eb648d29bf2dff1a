package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache or is stale
	ErrCacheMiss = errors.New("cache miss")

	// ErrUnknownBackend indicates the configured cache method has no Store implementation
	ErrUnknownBackend = errors.New("unknown cache backend")
)

// Store is a cache backend.
//
// Contract:
//   - Get returns ErrCacheMiss for absent or stale entries.
//   - Put returns the stored value for chaining.
//   - Clear with an empty key removes the namespace subtree; with both key and
//     namespace empty it removes everything.
//   - Size and Count with an empty namespace cover the whole cache.
//   - Implementations must be safe for concurrent use. No cross-process
//     locking is provided; the last writer wins.
type Store interface {
	Get(ctx context.Context, hashedKey, namespace string, maxAge time.Duration) ([]byte, error)
	Put(ctx context.Context, value []byte, hashedKey, namespace string, maxAge time.Duration) ([]byte, error)
	Clear(ctx context.Context, hashedKey, namespace string) error
	Size(ctx context.Context, namespace string) (int64, error)
	Count(ctx context.Context, namespace string) (int64, error)
	Close() error
}

// Method selects the Store implementation.
type Method string

const (
	// MethodDisabled turns every read into a miss and every write into a pass-through.
	MethodDisabled Method = "disabled"

	// MethodFilesystem stores entries as files below a cache root.
	MethodFilesystem Method = "filesystem"

	// MethodExternal stores entries in Redis.
	MethodExternal Method = "external"
)

// ParseMethod converts a configuration string to a Method.
// "redis" is accepted as an alias for MethodExternal.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "none", "off":
		return MethodDisabled, nil
	case "filesystem", "file", "fs":
		return MethodFilesystem, nil
	case "external", "redis":
		return MethodExternal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

// StoreConfig holds the settings needed to construct any Store.
type StoreConfig struct {
	// Method selects the backend.
	Method Method

	// Root is the cache directory for MethodFilesystem.
	Root string

	// Redis is the client for MethodExternal. It is owned by the store.
	Redis *redis.Client

	// RedisPrefix is prepended to every Redis key.
	RedisPrefix string

	// Now overrides the clock (tests). Defaults to time.Now.
	Now func() time.Time

	// Logger receives backend diagnostics.
	Logger zerolog.Logger
}

type storeFactory func(StoreConfig) (Store, error)

var factories = map[Method]storeFactory{
	MethodDisabled: func(StoreConfig) (Store, error) {
		return Disabled{}, nil
	},
	MethodFilesystem: func(cfg StoreConfig) (Store, error) {
		return NewFilesystem(cfg.Root, cfg.Now, cfg.Logger)
	},
	MethodExternal: func(cfg StoreConfig) (Store, error) {
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis client is required for %s cache", MethodExternal)
		}
		return NewRedis(cfg.Redis, cfg.RedisPrefix), nil
	},
}

// NewStore constructs the Store registered for cfg.Method.
func NewStore(cfg StoreConfig) (Store, error) {
	factory, ok := factories[cfg.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Method)
	}
	return factory(cfg)
}

// Disabled is the pass-through Store.
type Disabled struct{}

// Get always misses.
func (Disabled) Get(context.Context, string, string, time.Duration) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Put returns value without storing it.
func (Disabled) Put(_ context.Context, value []byte, _, _ string, _ time.Duration) ([]byte, error) {
	return value, nil
}

func (Disabled) Clear(context.Context, string, string) error  { return nil }
func (Disabled) Size(context.Context, string) (int64, error)  { return 0, nil }
func (Disabled) Count(context.Context, string) (int64, error) { return 0, nil }
func (Disabled) Close() error                                 { return nil }

var _ Store = Disabled{}
