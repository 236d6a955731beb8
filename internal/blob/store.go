// Package blob provides byte-addressed object storage for uploaded archives
// and chunk spill files. Two implementations share one contract: a local
// filesystem store and a NATS JetStream object store.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// Store stores opaque blobs under slash-separated keys, e.g.
// "uploads/<ownerID>/<name>.zip".
type Store interface {
	// Upload streams r into the blob at key, replacing any existing blob.
	// It returns the number of bytes stored.
	Upload(ctx context.Context, key string, r io.Reader) (int64, error)

	// Download opens the blob at key for reading. The caller must close the
	// returned reader. Returns ErrNotFound if the blob doesn't exist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks whether a blob exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// SizeOf returns the total stored bytes under the given prefix. Used to
	// enforce per-owner storage quotas.
	SizeOf(ctx context.Context, prefix string) (int64, error)

	// Delete removes the blob at key. Returns ErrNotFound if absent.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// ErrNotFound is returned when a blob doesn't exist.
type ErrNotFound struct {
	Key string
}

func (e ErrNotFound) Error() string {
	return "blob not found: " + e.Key
}

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(ErrNotFound)
	return ok
}

// FetchToFile downloads a blob into a local file within a bounded time.
// Extraction reads from local disk, never directly from the store.
func FetchToFile(ctx context.Context, s Store, key, dest string, timeout time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rc, err := s.Download(ctx, key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: rc})
	if err != nil {
		os.Remove(dest)
		return n, fmt.Errorf("fetch blob %s: %w", key, err)
	}
	return n, nil
}

// ctxReader aborts a copy once the context is done, so a stalled store
// cannot hold the worker past its lease.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
