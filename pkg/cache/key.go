package cache

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrEmptyKey indicates a key hash was requested for an empty key
	ErrEmptyKey = errors.New("cache key cannot be empty")

	// ErrInvalidKey indicates the key cannot be mapped to a safe storage path
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrInvalidNamespace indicates the namespace cannot be mapped to a safe storage path
	ErrInvalidNamespace = errors.New("invalid cache namespace")

	// ErrUnknownHash indicates the configured key hash algorithm is not supported
	ErrUnknownHash = errors.New("unknown key hash algorithm")
)

// Supported key hash algorithms.
const (
	HashNone   = "none"
	HashMD5    = "md5"
	HashSHA1   = "sha1"
	HashSHA256 = "sha256"
	HashXXHash = "xxhash"
)

// Hasher maps a logical (key, namespace) pair to a storage-safe identifier.
//
// The transform is a pure function of its configuration: the same key always
// yields the same hashed key, across process restarts.
type Hasher struct {
	algorithm string
	interlace int
}

// NewHasher creates a Hasher. An empty algorithm is treated as HashNone.
// interlace is the number of leading characters fanned out into
// subdirectories (0 disables interlacing).
func NewHasher(algorithm string, interlace int) (*Hasher, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm == "" {
		algorithm = HashNone
	}

	switch algorithm {
	case HashNone, HashMD5, HashSHA1, HashSHA256, HashXXHash:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHash, algorithm)
	}

	if interlace < 0 {
		return nil, fmt.Errorf("key interlace must be >= 0 (got %d)", interlace)
	}

	return &Hasher{
		algorithm: algorithm,
		interlace: interlace,
	}, nil
}

// Algorithm returns the configured hash algorithm.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Interlace returns the configured interlace factor.
func (h *Hasher) Interlace() int {
	return h.interlace
}

// Hash returns the hashed key for key within namespace.
//
// The namespace is validated but not part of the result; stores combine the
// normalized namespace and the hashed key themselves.
//
// Example with interlace 2 and algorithm "none":
//
//	Hash("greeting", "demo") // "g/r/eeting"
func (h *Hasher) Hash(key, namespace string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if _, err := NormalizeNamespace(namespace); err != nil {
		return "", err
	}

	hashed := h.digest(key)
	if h.algorithm == HashNone {
		if err := validatePath(hashed); err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}

	return interlace(hashed, h.interlace), nil
}

// digest applies the configured content hash to key.
func (h *Hasher) digest(key string) string {
	switch h.algorithm {
	case HashMD5:
		sum := md5.Sum([]byte(key))
		return hex.EncodeToString(sum[:])
	case HashSHA1:
		sum := sha1.Sum([]byte(key))
		return hex.EncodeToString(sum[:])
	case HashSHA256:
		sum := sha256.Sum256([]byte(key))
		return hex.EncodeToString(sum[:])
	case HashXXHash:
		return fmt.Sprintf("%016x", xxhash.Sum64String(key))
	default:
		return key
	}
}

// interlace inserts a "/" after each of the first n characters of key.
// At most len-1 characters are fanned out so the final segment is never empty.
func interlace(key string, n int) string {
	if n <= 0 {
		return key
	}

	runes := []rune(key)
	if n > len(runes)-1 {
		n = len(runes) - 1
	}
	if n <= 0 {
		return key
	}

	var b strings.Builder
	b.Grow(len(key) + n)
	for _, r := range runes[:n] {
		b.WriteRune(r)
		b.WriteByte('/')
	}
	b.WriteString(string(runes[n:]))
	return b.String()
}

// NormalizeNamespace trims redundant separators and returns namespace as a
// trailing-slash path segment ("htmlpage" -> "htmlpage/"). The empty
// namespace stays empty and addresses the cache root.
func NormalizeNamespace(namespace string) (string, error) {
	parts := strings.Split(namespace, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		if p == "." || p == ".." || strings.ContainsRune(p, 0) {
			return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
		}
		segments = append(segments, p)
	}

	if len(segments) == 0 {
		return "", nil
	}
	return strings.Join(segments, "/") + "/", nil
}

// validatePath rejects keys that would escape their namespace directory.
func validatePath(key string) error {
	if strings.ContainsRune(key, 0) || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, p := range strings.Split(key, "/") {
		if p == "." || p == ".." || p == "" {
			return ErrInvalidKey
		}
	}
	return nil
}
