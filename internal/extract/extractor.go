// Package extract safely materializes untrusted ZIP archives onto local
// disk. Every entry passes a policy chain guarding against path traversal,
// decompression bombs, oversize payloads and disallowed file types.
package extract

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/reviewd/internal/logfields"
)

// File describes one extracted archive entry.
type File struct {
	RelativePath string
	AbsolutePath string
	Size         int64
	ContentHash  string // hex SHA-256
	Index        int
}

// Progress reports extraction advancement to an optional observer.
type Progress struct {
	FilesExtracted int
	BytesWritten   int64
	CurrentEntry   string
}

// Options bound an extraction run. Zero values fall back to the defaults.
type Options struct {
	MaxFileSize         int64
	MaxTotalFiles       int
	MaxTotalSize        int64
	MaxCompressionRatio float64
	OnProgress          func(Progress)
}

const (
	defaultMaxFileSize         = 10 * 1024 * 1024
	defaultMaxTotalFiles       = 5000
	defaultMaxTotalSize        = 500 * 1024 * 1024
	defaultMaxCompressionRatio = 100
	// declared length may be understated by up to 10% before the entry is
	// treated as hostile
	sizeSlackNumerator   = 11
	sizeSlackDenominator = 10
)

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxFileSize <= 0 {
		out.MaxFileSize = defaultMaxFileSize
	}
	if out.MaxTotalFiles <= 0 {
		out.MaxTotalFiles = defaultMaxTotalFiles
	}
	if out.MaxTotalSize <= 0 {
		out.MaxTotalSize = defaultMaxTotalSize
	}
	if out.MaxCompressionRatio <= 0 {
		out.MaxCompressionRatio = defaultMaxCompressionRatio
	}
	return out
}

// Extract reads a ZIP archive and writes accepted entries under outDir.
// The run is finite and not restartable. On any fatal policy violation the
// partially extracted tree is removed before returning.
func Extract(ctx context.Context, ra io.ReaderAt, size int64, outDir string, opts Options) ([]File, error) {
	o := opts.withDefaults()

	reader, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, &Error{Code: CodeInvalidArchive, Cause: err}
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create extraction root: %w", err)
	}

	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return nil, fmt.Errorf("resolve extraction root: %w", err)
	}

	var (
		files      []File
		totalBytes int64
	)
	fail := func(e *Error) ([]File, error) {
		// never leave a partial tree behind
		if rmErr := os.RemoveAll(absOut); rmErr != nil {
			slog.Warn("Failed to remove partial extraction", logfields.Path(absOut), logfields.Error(rmErr))
		}
		return nil, e
	}

	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			return fail(&Error{Code: CodeInvalidArchive, Cause: err})
		}

		name := entry.Name

		// 1. directory entries carry no content
		if name == "" || strings.HasSuffix(name, "/") || entry.FileInfo().IsDir() {
			continue
		}

		// 2. entry budget exhausted: terminate the sequence, not the run
		if len(files) >= o.MaxTotalFiles {
			slog.Debug("Entry budget reached, remaining entries skipped",
				slog.Int("max_total_files", o.MaxTotalFiles))
			break
		}

		declared := int64(entry.UncompressedSize64)

		// 3. oversize entries are skipped
		if declared > o.MaxFileSize {
			slog.Debug("Skipping oversize entry", logfields.File(name),
				slog.String("size", humanize.Bytes(entry.UncompressedSize64)))
			continue
		}

		// 4. binary/media/archive denylist
		if ExtensionDenied(name) {
			continue
		}

		// 5. dependency folders
		if HasExcludedSegment(name) {
			continue
		}

		// 6. path normalization and traversal containment
		if containsDotDot(name) {
			return fail(&Error{Code: CodePathTraversal, Entry: name})
		}
		rel := normalizeEntryName(name)
		if rel == "" {
			continue
		}
		dest := filepath.Join(absOut, rel)
		if dest != absOut && !strings.HasPrefix(dest, absOut+string(filepath.Separator)) {
			return fail(&Error{Code: CodePathTraversal, Entry: name})
		}

		// 7. compression-ratio ceiling, checked before any bytes are written
		compressed := int64(entry.CompressedSize64)
		if declared > 0 {
			if compressed == 0 || float64(declared)/float64(compressed) > o.MaxCompressionRatio {
				return fail(&Error{Code: CodeSuspiciousCompression, Entry: name})
			}
		}

		// 8. cumulative uncompressed ceiling
		if totalBytes+declared > o.MaxTotalSize {
			return fail(&Error{Code: CodeExtractionTooLarge, Entry: name})
		}

		// 9. stream, hash, and verify declared length
		written, hash, err := writeEntry(entry, dest, declared)
		if err != nil {
			if ee, ok := err.(*Error); ok {
				return fail(ee)
			}
			return fail(&Error{Code: CodeInvalidArchive, Entry: name, Cause: err})
		}
		totalBytes += written

		files = append(files, File{
			RelativePath: filepath.ToSlash(rel),
			AbsolutePath: dest,
			Size:         written,
			ContentHash:  hash,
			Index:        len(files),
		})
		if o.OnProgress != nil {
			o.OnProgress(Progress{
				FilesExtracted: len(files),
				BytesWritten:   totalBytes,
				CurrentEntry:   filepath.ToSlash(rel),
			})
		}
	}

	slog.Debug("Extraction complete", logfields.Path(absOut),
		slog.Int("files", len(files)),
		slog.String("bytes", humanize.Bytes(uint64(totalBytes))))
	return files, nil
}

// writeEntry streams one archive entry to dest while hashing its content,
// aborting once the written length exceeds the declared length by more than
// the permitted slack.
func writeEntry(entry *zip.File, dest string, declared int64) (int64, string, error) {
	rc, err := entry.Open()
	if err != nil {
		return 0, "", &Error{Code: CodeInvalidArchive, Entry: entry.Name, Cause: err}
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, "", fmt.Errorf("create entry directory: %w", err)
	}
	// #nosec G304 - dest is containment-checked against the extraction root
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, "", fmt.Errorf("create entry file: %w", err)
	}
	defer f.Close()

	maxAllowed := declared * sizeSlackNumerator / sizeSlackDenominator
	hasher := sha256.New()
	out := io.MultiWriter(f, hasher)

	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			if written+int64(n) > maxAllowed {
				f.Close()
				os.Remove(dest)
				return written, "", &Error{Code: CodeSizeMismatch, Entry: entry.Name}
			}
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return written, "", fmt.Errorf("write entry: %w", writeErr)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, "", &Error{Code: CodeInvalidArchive, Entry: entry.Name, Cause: readErr}
		}
	}

	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}
