// Package chunker splits extracted source files into byte-range chunks for
// the vector index. Chunk identity is the content hash of the range, so an
// unchanged file re-chunks to the same IDs. Oversize chunk content spills
// to disk instead of living in the database.
package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/reviewd/internal/model"
)

// Embedder computes embeddings for chunk content. The implementation is
// external; a nil embedder leaves HasEmbedding false on every chunk.
type Embedder interface {
	Embed(ctx context.Context, chunkID string, content []byte) error
}

// Options bound chunking.
type Options struct {
	// ChunkSize is the target chunk length in bytes.
	ChunkSize int64
	// SpillThreshold is the chunk length above which content spills to a
	// file instead of being held inline.
	SpillThreshold int64
	// SpillDir receives spill files, laid out spillDir/<jobID>/<chunkID>.chunk.
	SpillDir string
}

const (
	defaultChunkSize      = 16 * 1024
	defaultSpillThreshold = 8 * 1024
)

func (o *Options) withDefaults() Options {
	out := *o
	if out.ChunkSize <= 0 {
		out.ChunkSize = defaultChunkSize
	}
	if out.SpillThreshold <= 0 {
		out.SpillThreshold = defaultSpillThreshold
	}
	return out
}

// Chunker produces chunk records for file records.
type Chunker struct {
	opts     Options
	embedder Embedder
}

// New creates a chunker. embedder may be nil.
func New(opts Options, embedder Embedder) *Chunker {
	return &Chunker{opts: opts.withDefaults(), embedder: embedder}
}

// ChunkFile splits one file's content into chunk records for the given job.
// Chunks at or below the spill threshold carry no spill path; larger ones
// are written to the spill directory.
func (c *Chunker) ChunkFile(ctx context.Context, jobID string, record model.FileRecord, content []byte) ([]model.Chunk, error) {
	var chunks []model.Chunk
	for start := int64(0); start < int64(len(content)); start += c.opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + c.opts.ChunkSize
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		part := content[start:end]

		sum := sha256.Sum256(part)
		chunk := model.Chunk{
			ID:           hex.EncodeToString(sum[:]),
			ProjectID:    record.ProjectID,
			RelativePath: record.RelativePath,
			StartByte:    start,
			EndByte:      end,
		}

		if int64(len(part)) > c.opts.SpillThreshold {
			path, err := c.spill(jobID, chunk.ID, part)
			if err != nil {
				return nil, err
			}
			chunk.SpillPath = path
		}

		if c.embedder != nil {
			if err := c.embedder.Embed(ctx, chunk.ID, part); err == nil {
				chunk.HasEmbedding = true
			}
		}

		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func (c *Chunker) spill(jobID, chunkID string, content []byte) (string, error) {
	if c.opts.SpillDir == "" {
		return "", fmt.Errorf("spill directory not configured")
	}
	dir := filepath.Join(c.opts.SpillDir, SanitizeID(jobID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create spill directory: %w", err)
	}
	path := filepath.Join(dir, SanitizeID(chunkID)+".chunk")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("write spill file: %w", err)
	}
	return path, nil
}

// ReadChunk returns the content of a chunk, from its spill file when
// present, otherwise sliced out of the full file content.
func ReadChunk(chunk model.Chunk, fullContent []byte) ([]byte, error) {
	if chunk.SpillPath != "" {
		data, err := os.ReadFile(chunk.SpillPath)
		if err != nil {
			return nil, fmt.Errorf("read spill file: %w", err)
		}
		return data, nil
	}
	if chunk.EndByte > int64(len(fullContent)) || chunk.StartByte > chunk.EndByte {
		return nil, fmt.Errorf("chunk range out of bounds")
	}
	return fullContent[chunk.StartByte:chunk.EndByte], nil
}

// SanitizeID maps an identifier to a filesystem-safe name.
func SanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
