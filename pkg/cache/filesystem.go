package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// dirPerm grants owner and group full access, nothing for others.
	dirPerm os.FileMode = 0o770

	// filePerm grants owner and group read/write, nothing for others.
	filePerm os.FileMode = 0o660

	tempPrefix = ".tmp-"
)

// Filesystem stores each entry as a file at root/namespace/hashedKey.
//
// The stored-at time of an entry is the file modification time. Entries are
// published with write-to-temp + rename, so readers never observe a partial
// blob.
type Filesystem struct {
	root   string
	now    func() time.Time
	logger zerolog.Logger
}

// NewFilesystem creates a filesystem store rooted at root, creating the
// directory if needed. now may be nil to use time.Now.
func NewFilesystem(root string, now func() time.Time, logger zerolog.Logger) (*Filesystem, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root cannot be empty")
	}
	if now == nil {
		now = time.Now
	}

	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	return &Filesystem{
		root:   root,
		now:    now,
		logger: logger,
	}, nil
}

// Root returns the cache root directory.
func (f *Filesystem) Root() string {
	return f.root
}

// Get reads the entry. It returns ErrCacheMiss when the file does not exist
// or when now - mtime exceeds maxAge. A non-positive maxAge never expires.
func (f *Filesystem) Get(ctx context.Context, hashedKey, namespace string, maxAge time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := f.entryPath(hashedKey, namespace)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("stat cache file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrCacheMiss
	}

	if maxAge > 0 && f.now().Sub(info.ModTime()) > maxAge {
		f.logger.Debug().
			Str("path", path).
			Time("stored_at", info.ModTime()).
			Dur("max_age", maxAge).
			Msg("Cache file stale")
		return nil, ErrCacheMiss
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Removed by a concurrent Clear between Stat and ReadFile.
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}

	return data, nil
}

// Put writes value atomically and stamps the file with the current time.
// maxAge is not stored; staleness is decided on read.
func (f *Filesystem) Put(ctx context.Context, value []byte, hashedKey, namespace string, _ time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return value, err
	}

	path, err := f.entryPath(hashedKey, namespace)
	if err != nil {
		return value, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return value, fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return value, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		cleanup()
		return value, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return value, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		cleanup()
		return value, fmt.Errorf("chmod temp file: %w", err)
	}

	now := f.now()
	if err := os.Chtimes(tmpName, now, now); err != nil {
		cleanup()
		return value, fmt.Errorf("set cache file time: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return value, fmt.Errorf("publish cache file: %w", err)
	}

	return value, nil
}

// Clear removes a single entry, a namespace subtree, or (with both arguments
// empty) everything below the root. Missing files are not an error.
func (f *Filesystem) Clear(ctx context.Context, hashedKey, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if hashedKey != "" {
		path, err := f.entryPath(hashedKey, namespace)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove cache file: %w", err)
		}
		return nil
	}

	dir, err := f.namespaceDir(namespace)
	if err != nil {
		return err
	}

	if dir != f.root {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove cache namespace: %w", err)
		}
		return nil
	}

	// Keep the root itself so concurrent writers do not have to recreate it.
	entries, err := os.ReadDir(f.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache root: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(f.root, e.Name())); err != nil {
			return fmt.Errorf("remove cache entry: %w", err)
		}
	}
	return nil
}

// Size returns the total size in bytes of the entries below namespace.
func (f *Filesystem) Size(ctx context.Context, namespace string) (int64, error) {
	var total int64
	err := f.walk(ctx, namespace, func(info fs.FileInfo) {
		total += info.Size()
	})
	return total, err
}

// Count returns the number of entries below namespace.
func (f *Filesystem) Count(ctx context.Context, namespace string) (int64, error) {
	var n int64
	err := f.walk(ctx, namespace, func(fs.FileInfo) {
		n++
	})
	return n, err
}

// Close is a no-op.
func (f *Filesystem) Close() error {
	return nil
}

// walk visits every published entry below namespace. Files that disappear
// during the walk are skipped.
func (f *Filesystem) walk(ctx context.Context, namespace string, visit func(fs.FileInfo)) error {
	dir, err := f.namespaceDir(namespace)
	if err != nil {
		return err
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		visit(info)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk cache directory: %w", err)
	}
	return nil
}

func (f *Filesystem) namespaceDir(namespace string) (string, error) {
	ns, err := NormalizeNamespace(namespace)
	if err != nil {
		return "", err
	}
	if ns == "" {
		return f.root, nil
	}
	return filepath.Join(f.root, filepath.FromSlash(ns)), nil
}

func (f *Filesystem) entryPath(hashedKey, namespace string) (string, error) {
	if hashedKey == "" {
		return "", ErrEmptyKey
	}
	if err := validatePath(hashedKey); err != nil {
		return "", fmt.Errorf("%w: %q", err, hashedKey)
	}

	dir, err := f.namespaceDir(namespace)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(hashedKey)), nil
}

var _ Store = (*Filesystem)(nil)
