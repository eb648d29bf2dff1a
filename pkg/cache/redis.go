package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix is prepended to every key stored in Redis
	DefaultRedisPrefix = "pagecache:"

	// scanBatch is the COUNT hint for SCAN and the DEL batch size
	scanBatch = 500
)

// Redis stores entries in Redis. TTL is delegated to native key expiry; the
// namespace becomes part of the key.
type Redis struct {
	redis  *redis.Client
	prefix string
}

// NewRedis creates a Redis store. An empty prefix uses DefaultRedisPrefix.
func NewRedis(redisClient *redis.Client, prefix string) *Redis {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Get retrieves an entry. maxAge is ignored because Redis expires keys itself.
func (r *Redis) Get(ctx context.Context, hashedKey, namespace string, _ time.Duration) ([]byte, error) {
	key, err := r.key(hashedKey, namespace)
	if err != nil {
		return nil, err
	}

	data, err := r.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Put stores value with maxAge as expiry. A non-positive maxAge stores the
// entry without expiry.
func (r *Redis) Put(ctx context.Context, value []byte, hashedKey, namespace string, maxAge time.Duration) ([]byte, error) {
	key, err := r.key(hashedKey, namespace)
	if err != nil {
		return value, err
	}

	if maxAge < 0 {
		maxAge = 0
	}
	if err := r.redis.Set(ctx, key, value, maxAge).Err(); err != nil {
		return value, fmt.Errorf("redis set: %w", err)
	}
	return value, nil
}

// Clear deletes a single key, or every key below the namespace prefix.
func (r *Redis) Clear(ctx context.Context, hashedKey, namespace string) error {
	if hashedKey != "" {
		key, err := r.key(hashedKey, namespace)
		if err != nil {
			return err
		}
		if err := r.redis.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		return nil
	}

	pattern, err := r.pattern(namespace)
	if err != nil {
		return err
	}

	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.redis.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	iter := r.redis.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return flush()
}

// Size returns the sum of value lengths below namespace.
func (r *Redis) Size(ctx context.Context, namespace string) (int64, error) {
	keys, err := r.scan(ctx, namespace)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.StrLen(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis strlen: %w", err)
	}

	var total int64
	for _, cmd := range cmds {
		total += cmd.Val()
	}
	return total, nil
}

// Count returns the number of keys below namespace.
func (r *Redis) Count(ctx context.Context, namespace string) (int64, error) {
	keys, err := r.scan(ctx, namespace)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (r *Redis) Close() error {
	return r.redis.Close()
}

func (r *Redis) scan(ctx context.Context, namespace string) ([]string, error) {
	pattern, err := r.pattern(namespace)
	if err != nil {
		return nil, err
	}

	var keys []string
	iter := r.redis.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

// key builds the Redis key.
// Format: <prefix><namespace/><hashedKey>
//
// Example:
//
//	pagecache:htmlpage/a/b/cdef
func (r *Redis) key(hashedKey, namespace string) (string, error) {
	if hashedKey == "" {
		return "", ErrEmptyKey
	}
	ns, err := NormalizeNamespace(namespace)
	if err != nil {
		return "", err
	}
	return r.prefix + ns + hashedKey, nil
}

func (r *Redis) pattern(namespace string) (string, error) {
	ns, err := NormalizeNamespace(namespace)
	if err != nil {
		return "", err
	}
	return escapeGlob(r.prefix+ns) + "*", nil
}

// escapeGlob escapes the SCAN MATCH metacharacters in s.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

var _ Store = (*Redis)(nil)
