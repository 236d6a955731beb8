package chunker

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/reviewd/internal/model"
)

func record() model.FileRecord {
	return model.FileRecord{ProjectID: "proj-1", RelativePath: "src/main.go"}
}

func TestChunkFileRanges(t *testing.T) {
	c := New(Options{ChunkSize: 10, SpillThreshold: 100}, nil)
	content := []byte("0123456789abcdefghijXY")

	chunks, err := c.ChunkFile(context.Background(), "job-1", record(), content)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, int64(0), chunks[0].StartByte)
	assert.Equal(t, int64(10), chunks[0].EndByte)
	assert.Equal(t, int64(20), chunks[2].StartByte)
	assert.Equal(t, int64(22), chunks[2].EndByte)

	for _, ch := range chunks {
		assert.Equal(t, "proj-1", ch.ProjectID)
		assert.Equal(t, "src/main.go", ch.RelativePath)
		assert.Empty(t, ch.SpillPath)
		assert.False(t, ch.HasEmbedding)
	}
}

func TestChunkIDsAreContentAddressed(t *testing.T) {
	c := New(Options{ChunkSize: 10, SpillThreshold: 100}, nil)
	content := []byte("same content, chunked twice")

	first, err := c.ChunkFile(context.Background(), "job-1", record(), content)
	require.NoError(t, err)
	second, err := c.ChunkFile(context.Background(), "job-2", record(), content)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestOversizeChunksSpill(t *testing.T) {
	spillDir := t.TempDir()
	c := New(Options{ChunkSize: 100, SpillThreshold: 10, SpillDir: spillDir}, nil)
	content := bytes.Repeat([]byte("x"), 50)

	chunks, err := c.ChunkFile(context.Background(), "job-1", record(), content)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.NotEmpty(t, chunks[0].SpillPath)

	// layout is spillDir/<jobID>/<chunkID>.chunk
	rel, err := filepath.Rel(spillDir, chunks[0].SpillPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("job-1", SanitizeID(chunks[0].ID)+".chunk"), rel)

	data, err := os.ReadFile(chunks[0].SpillPath)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestSpillWithoutDirFails(t *testing.T) {
	c := New(Options{ChunkSize: 100, SpillThreshold: 10}, nil)
	_, err := c.ChunkFile(context.Background(), "job-1", record(), bytes.Repeat([]byte("x"), 50))
	assert.Error(t, err)
}

func TestReadChunk(t *testing.T) {
	content := []byte("0123456789")

	inline := model.Chunk{StartByte: 2, EndByte: 6}
	data, err := ReadChunk(inline, content)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), data)

	_, err = ReadChunk(model.Chunk{StartByte: 5, EndByte: 50}, content)
	assert.Error(t, err)

	spillFile := filepath.Join(t.TempDir(), "c.chunk")
	require.NoError(t, os.WriteFile(spillFile, []byte("spilled"), 0o600))
	data, err = ReadChunk(model.Chunk{SpillPath: spillFile}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("spilled"), data)
}

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, _ []byte) error {
	f.calls++
	return nil
}

func TestEmbedderMarksChunks(t *testing.T) {
	emb := &fakeEmbedder{}
	c := New(Options{ChunkSize: 10, SpillThreshold: 100}, emb)

	chunks, err := c.ChunkFile(context.Background(), "job-1", record(), []byte("0123456789abcdef"))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 2, emb.calls)
	for _, ch := range chunks {
		assert.True(t, ch.HasEmbedding)
	}
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "a_b_c-d_1", SanitizeID("a/b.c-d:1"))
}
