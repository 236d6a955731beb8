package blob

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.Upload(ctx, "uploads/u1/a.zip", strings.NewReader("archive-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("archive-bytes")), n)

	rc, err := store.Download(ctx, "uploads/u1/a.zip")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes", string(data))
}

func TestDownloadMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Download(context.Background(), "uploads/u1/missing.zip")
	assert.True(t, IsNotFound(err))
}

func TestUploadRejectsEscapingKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"../outside", "uploads/../../etc/passwd", "/abs/path", "."} {
		_, err := store.Upload(ctx, key, strings.NewReader("x"))
		assert.Error(t, err, "key %q must be rejected", key)
	}
}

func TestListAndSizeOfByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upload(ctx, "uploads/u1/a.zip", strings.NewReader("aaaa"))
	require.NoError(t, err)
	_, err = store.Upload(ctx, "uploads/u1/b.zip", strings.NewReader("bb"))
	require.NoError(t, err)
	_, err = store.Upload(ctx, "uploads/u2/c.zip", strings.NewReader("c"))
	require.NoError(t, err)

	keys, err := store.List(ctx, "uploads/u1/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"uploads/u1/a.zip", "uploads/u1/b.zip"}, keys)

	size, err := store.SizeOf(ctx, "uploads/u1/")
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)

	size, err = store.SizeOf(ctx, "uploads/")
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
}

func TestDeleteRemovesBlobAndEmptyDirs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upload(ctx, "uploads/u1/a.zip", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "uploads/u1/a.zip"))

	exists, err := store.Exists(ctx, "uploads/u1/a.zip")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.True(t, IsNotFound(store.Delete(ctx, "uploads/u1/a.zip")))
}

func TestUploadOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upload(ctx, "uploads/u1/a.zip", strings.NewReader("old"))
	require.NoError(t, err)
	_, err = store.Upload(ctx, "uploads/u1/a.zip", strings.NewReader("new-content"))
	require.NoError(t, err)

	size, err := store.SizeOf(ctx, "uploads/u1/")
	require.NoError(t, err)
	assert.Equal(t, int64(len("new-content")), size)
}

func TestFetchToFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upload(ctx, "uploads/u1/a.zip", strings.NewReader("payload"))
	require.NoError(t, err)

	dest := t.TempDir() + "/a.zip"
	n, err := FetchToFile(ctx, store, "uploads/u1/a.zip", dest, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload")), n)
}

func TestFetchToFileCanceledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := store.Upload(ctx, "uploads/u1/a.zip", strings.NewReader("payload"))
	require.NoError(t, err)
	cancel()

	_, err = FetchToFile(ctx, store, "uploads/u1/a.zip", t.TempDir()+"/a.zip", time.Minute)
	assert.Error(t, err)
}
