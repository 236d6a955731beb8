package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore is a JetStream object-store backed implementation of Store,
// used when blobs must survive the loss of any single worker host.
type NATSStore struct {
	conn *nats.Conn
	obs  jetstream.ObjectStore
}

// NewNATSStore connects to NATS and binds (or creates) the object bucket.
func NewNATSStore(url, bucket string) (*NATSStore, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx := context.Background()
	obs, err := js.ObjectStore(ctx, bucket)
	if err != nil {
		obs, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "reviewd uploaded archives and chunk spill files",
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create object bucket %s: %w", bucket, err)
		}
	}

	slog.Info("NATS blob store initialized", "url", url, "bucket", bucket)
	return &NATSStore{conn: conn, obs: obs}, nil
}

// Upload streams r into the object at key.
func (s *NATSStore) Upload(ctx context.Context, key string, r io.Reader) (int64, error) {
	info, err := s.obs.Put(ctx, jetstream.ObjectMeta{Name: key}, r)
	if err != nil {
		return 0, fmt.Errorf("put object %s: %w", key, err)
	}
	return int64(info.Size), nil
}

// Download opens the object at key.
func (s *NATSStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	res, err := s.obs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, ErrNotFound{Key: key}
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return res, nil
}

// Exists checks whether an object exists at key.
func (s *NATSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.obs.GetInfo(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("object info %s: %w", key, err)
	}
	return true, nil
}

// List returns all keys with the given prefix.
func (s *NATSStore) List(ctx context.Context, prefix string) ([]string, error) {
	infos, err := s.obs.List(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoObjectsFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list objects: %w", err)
	}
	var keys []string
	for _, info := range infos {
		if strings.HasPrefix(info.Name, prefix) {
			keys = append(keys, info.Name)
		}
	}
	return keys, nil
}

// SizeOf returns the total stored bytes under the given prefix.
func (s *NATSStore) SizeOf(ctx context.Context, prefix string) (int64, error) {
	infos, err := s.obs.List(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoObjectsFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("list objects: %w", err)
	}
	var total int64
	for _, info := range infos {
		if strings.HasPrefix(info.Name, prefix) {
			total += int64(info.Size)
		}
	}
	return total, nil
}

// Delete removes the object at key.
func (s *NATSStore) Delete(ctx context.Context, key string) error {
	err := s.obs.Delete(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return ErrNotFound{Key: key}
		}
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Close closes the NATS connection.
func (s *NATSStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
