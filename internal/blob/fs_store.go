package blob

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FSStore is a filesystem-based implementation of Store. Keys map onto a
// directory tree rooted at basePath:
//
//	<base>/
//	  uploads/<ownerID>/<randomName>.zip
//	  chunks/<jobID>/<chunkID>.chunk
type FSStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewFSStore creates a filesystem-based blob store rooted at basePath.
func NewFSStore(basePath string) (*FSStore, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", basePath, err)
	}
	return &FSStore{basePath: basePath}, nil
}

// keyPath resolves a key to an absolute path, rejecting keys that would
// escape the store root.
func (s *FSStore) keyPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.basePath, clean), nil
}

// Upload streams r into the blob at key.
func (s *FSStore) Upload(ctx context.Context, key string, r io.Reader) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.keyPath(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("create blob directory: %w", err)
	}

	// Write to a temp sibling first so a failed upload never leaves a
	// truncated blob behind.
	tmp := path + ".part"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create blob: %w", err)
	}
	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("finalize blob %s: %w", key, err)
	}
	return n, nil
}

// Download opens the blob at key.
func (s *FSStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	// #nosec G304 - path is rooted and traversal-checked by keyPath
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound{Key: key}
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Exists checks whether a blob exists at key.
func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.keyPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob: %w", err)
	}
	return true, nil
}

// List returns all keys with the given prefix.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".part") {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk blobs: %w", err)
	}
	return keys, nil
}

// SizeOf returns the total stored bytes under the given prefix.
func (s *FSStore) SizeOf(ctx context.Context, prefix string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".part") {
			return nil
		}
		rel, relErr := filepath.Rel(s.basePath, path)
		if relErr != nil {
			return nil
		}
		if !strings.HasPrefix(filepath.ToSlash(rel), prefix) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk blobs: %w", err)
	}
	return total, nil
}

// Delete removes the blob at key.
func (s *FSStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound{Key: key}
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	// Prune now-empty parent directories up to the root. Best effort.
	for dir := filepath.Dir(path); dir != s.basePath; dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// Close releases resources.
func (s *FSStore) Close() error {
	return nil
}
