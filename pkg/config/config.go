// Package config loads pagecache settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/pagecache/pkg/cache"
	"github.com/Sternrassler/pagecache/pkg/httpcache"
	"github.com/Sternrassler/pagecache/pkg/logging"
)

// Config holds all settings of the pagecache server.
type Config struct {
	Cache  CacheConfig
	HTTP   HTTPConfig
	Server ServerConfig
	Log    LogConfig
}

// CacheConfig configures the content cache.
type CacheConfig struct {
	Method       string        // disabled|filesystem|external
	MaxAge       time.Duration // default entry age limit
	KeyHash      string        // none|md5|sha1|sha256|xxhash
	KeyInterlace int
	Root         string // filesystem root
	RedisAddr    string
	RedisPrefix  string
}

// HTTPConfig configures conditional request handling.
type HTTPConfig struct {
	Enabled        bool
	CacheControl   string
	Identity       string
	ContentVersion string
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port       string
	ContentDir string
}

// LogConfig configures logging.
type LogConfig struct {
	Level  logging.LogLevel
	Pretty bool
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Method:       string(cache.MethodFilesystem),
			MaxAge:       cache.DefaultMaxAge,
			KeyHash:      cache.HashMD5,
			KeyInterlace: 2,
			Root:         filepath.Join("data", "cache"),
			RedisAddr:    "localhost:6379",
			RedisPrefix:  cache.DefaultRedisPrefix,
		},
		HTTP: HTTPConfig{
			Enabled:      true,
			CacheControl: httpcache.DefaultCacheControl,
			Identity:     "pagecache",
		},
		Server: ServerConfig{
			Port:       "8080",
			ContentDir: "public",
		},
		Log: LogConfig{
			Level: logging.LevelInfo,
		},
	}
}

// Load reads the configuration from environment variables and validates it.
func Load() (Config, error) {
	cfg := Default()
	var errs []error

	cfg.Cache.Method = getEnv("CACHE_METHOD", cfg.Cache.Method)
	if v := os.Getenv("CACHE_MAX_AGE"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CACHE_MAX_AGE: %w", err))
		}
		cfg.Cache.MaxAge = time.Duration(secs) * time.Second
	}
	cfg.Cache.KeyHash = getEnv("CACHE_KEY_HASH", cfg.Cache.KeyHash)
	if v := os.Getenv("CACHE_KEY_INTERLACE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CACHE_KEY_INTERLACE: %w", err))
		}
		cfg.Cache.KeyInterlace = n
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		cfg.Cache.Root = filepath.Join(dataDir, "cache")
	}
	cfg.Cache.Root = getEnv("CACHE_ROOT", cfg.Cache.Root)
	cfg.Cache.RedisAddr = getEnv("REDIS_URL", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPrefix = getEnv("REDIS_PREFIX", cfg.Cache.RedisPrefix)

	if v := os.Getenv("HTTP_CACHE"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HTTP_CACHE: %w", err))
		}
		cfg.HTTP.Enabled = enabled
	}
	cfg.HTTP.CacheControl = getEnv("HTTP_CACHE_CONTROL", cfg.HTTP.CacheControl)
	cfg.HTTP.Identity = getEnv("PROJECT_IDENTITY", cfg.HTTP.Identity)
	cfg.HTTP.ContentVersion = getEnv("CONTENT_VERSION", cfg.HTTP.ContentVersion)

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.ContentDir = getEnv("CONTENT_DIR", cfg.Server.ContentDir)

	cfg.Log.Level = logging.LogLevel(getEnv("LOG_LEVEL", string(cfg.Log.Level)))
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_PRETTY: %w", err))
		}
		cfg.Log.Pretty = pretty
	}

	if err := errors.Join(errs...); err != nil {
		return cfg, fmt.Errorf("invalid environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot start with.
func (c *Config) Validate() error {
	method, err := cache.ParseMethod(c.Cache.Method)
	if err != nil {
		return err
	}
	if c.Cache.MaxAge < 0 {
		return fmt.Errorf("cache max age must not be negative, got: %s", c.Cache.MaxAge)
	}
	if _, err := cache.NewHasher(c.Cache.KeyHash, c.Cache.KeyInterlace); err != nil {
		return fmt.Errorf("cache key: %w", err)
	}

	switch method {
	case cache.MethodFilesystem:
		if strings.TrimSpace(c.Cache.Root) == "" {
			return errors.New("cache root is required for the filesystem backend")
		}
	case cache.MethodExternal:
		if c.Cache.RedisAddr == "" {
			return errors.New("redis address is required for the external backend")
		}
	}

	if c.Server.Port == "" {
		return errors.New("port is required")
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("unknown log level: %q", c.Log.Level)
	}
	return nil
}

// StoreMethod returns the parsed cache backend. Call Validate first.
func (c *Config) StoreMethod() cache.Method {
	method, _ := cache.ParseMethod(c.Cache.Method)
	return method
}

// Negotiator returns the conditional request settings.
func (c *Config) Negotiator() httpcache.Config {
	return httpcache.Config{
		Enabled:      c.HTTP.Enabled,
		Identity:     c.HTTP.Identity,
		CacheControl: c.HTTP.CacheControl,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
