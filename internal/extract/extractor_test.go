package extract

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildZip assembles an in-memory archive from name->content pairs. Entries
// whose name ends in "/" become directory entries.
func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		if name[len(name)-1] == '/' {
			_, err := w.Create(name)
			require.NoError(t, err)
			continue
		}
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// buildRawEntry assembles an archive with a single deflate entry whose
// declared uncompressed size may differ from the actual payload.
func buildRawEntry(t *testing.T, name string, payload []byte, declared uint64) []byte {
	t.Helper()
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	raw, err := w.CreateRaw(&zip.FileHeader{
		Name:               name,
		Method:             zip.Deflate,
		CompressedSize64:   uint64(compressed.Len()),
		UncompressedSize64: declared,
		CRC32:              crc32.ChecksumIEEE(payload),
	})
	require.NoError(t, err)
	_, err = raw.Write(compressed.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func extractBytes(t *testing.T, data []byte, outDir string, opts Options) ([]File, error) {
	t.Helper()
	return Extract(context.Background(), bytes.NewReader(data), int64(len(data)), outDir, opts)
}

func TestExtractHappyPath(t *testing.T) {
	data := buildZip(t, map[string]string{
		"README.md": "hi",
		"src/":      "",
		"src/a.cs":  "class A{}",
	})
	outDir := filepath.Join(t.TempDir(), "out")

	files, err := extractBytes(t, data, outDir, Options{})
	require.NoError(t, err)
	require.Len(t, files, 2)

	byPath := map[string]File{}
	for _, f := range files {
		byPath[f.RelativePath] = f
	}
	readme := byPath["README.md"]
	assert.Equal(t, int64(2), readme.Size)
	sum := sha256.Sum256([]byte("hi"))
	assert.Equal(t, hex.EncodeToString(sum[:]), readme.ContentHash)

	content, err := os.ReadFile(byPath["src/a.cs"].AbsolutePath)
	require.NoError(t, err)
	assert.Equal(t, "class A{}", string(content))
}

func TestExtractEntryBudgetTerminatesQuietly(t *testing.T) {
	entries := map[string]string{}
	for _, name := range []string{"a.go", "b.go", "c.go"} {
		entries[name] = "package x"
	}
	data := buildZip(t, entries)

	files, err := extractBytes(t, data, filepath.Join(t.TempDir(), "out"), Options{MaxTotalFiles: 2})
	require.NoError(t, err)
	assert.Len(t, files, 2)

	// exactly at the budget everything is extracted
	files, err = extractBytes(t, data, filepath.Join(t.TempDir(), "out2"), Options{MaxTotalFiles: 3})
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestExtractSkipsOversizeDeniedAndExcluded(t *testing.T) {
	data := buildZip(t, map[string]string{
		"keep.go":             "package keep",
		"big.go":              "this entry is larger than the limit",
		"tool.exe":            "MZ...",
		"node_modules/dep.js": "module.exports = {}",
		"vendor/lib.go":       "package lib",
		".git/config":         "[core]",
	})

	files, err := extractBytes(t, data, filepath.Join(t.TempDir(), "out"), Options{MaxFileSize: 16})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep.go", files[0].RelativePath)
}

func TestExtractPathTraversalFailsAndCleansUp(t *testing.T) {
	data := buildZip(t, map[string]string{
		"ok.go":            "package ok",
		"../../etc/passwd": "root:x",
	})
	outDir := filepath.Join(t.TempDir(), "out")

	_, err := extractBytes(t, data, outDir, Options{})
	require.Error(t, err)
	assert.Equal(t, CodePathTraversal, CodeOf(err))

	// the partial tree is removed
	_, statErr := os.Stat(outDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractSuspiciousCompressionFails(t *testing.T) {
	// a megabyte of zeros deflates far beyond the default 100:1 ceiling
	data := buildZip(t, map[string]string{
		"bomb.txt": string(make([]byte, 1024*1024)),
	})
	outDir := filepath.Join(t.TempDir(), "out")

	_, err := extractBytes(t, data, outDir, Options{})
	require.Error(t, err)
	assert.Equal(t, CodeSuspiciousCompression, CodeOf(err))

	_, statErr := os.Stat(outDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractTotalSizeCeiling(t *testing.T) {
	data := buildZip(t, map[string]string{
		"a.go": "0123456789",
		"b.go": "0123456789",
	})

	_, err := extractBytes(t, data, filepath.Join(t.TempDir(), "out"), Options{MaxTotalSize: 15})
	require.Error(t, err)
	assert.Equal(t, CodeExtractionTooLarge, CodeOf(err))

	files, err := extractBytes(t, data, filepath.Join(t.TempDir(), "out2"), Options{MaxTotalSize: 20})
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestExtractSizeMismatchSlack(t *testing.T) {
	payload110 := bytes.Repeat([]byte("x"), 110)
	accepted := buildRawEntry(t, "ok.txt", payload110, 100)
	files, err := extractBytes(t, accepted, filepath.Join(t.TempDir(), "out"), Options{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(110), files[0].Size)

	payload111 := bytes.Repeat([]byte("x"), 111)
	rejected := buildRawEntry(t, "liar.txt", payload111, 100)
	_, err = extractBytes(t, rejected, filepath.Join(t.TempDir(), "out2"), Options{})
	require.Error(t, err)
	assert.Equal(t, CodeSizeMismatch, CodeOf(err))
}

func TestExtractInvalidArchive(t *testing.T) {
	garbage := []byte("this is not a zip file at all")
	_, err := extractBytes(t, garbage, filepath.Join(t.TempDir(), "out"), Options{})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidArchive, CodeOf(err))
}

func TestExtractProgressCallback(t *testing.T) {
	data := buildZip(t, map[string]string{"a.go": "package a", "b.go": "package b"})
	var ticks []Progress
	_, err := extractBytes(t, data, filepath.Join(t.TempDir(), "out"), Options{
		OnProgress: func(p Progress) { ticks = append(ticks, p) },
	})
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, 1, ticks[0].FilesExtracted)
	assert.Equal(t, 2, ticks[1].FilesExtracted)
}

func TestValidateReportsWithoutMutating(t *testing.T) {
	data := buildZip(t, map[string]string{
		"src/a.go":      "package a",
		"src/":          "",
		"../escape.txt": "nope",
		"image.png":     "binarybytes",
		"vendor/dep.go": "package dep",
	})

	report, err := Validate(bytes.NewReader(data), int64(len(data)), 100)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Entries)
	assert.Equal(t, 1, report.DirectoryEntries)
	assert.True(t, report.HasPathTraversal)
	assert.Equal(t, 1, report.DeniedTypeEntries)
	assert.Equal(t, 1, report.ExcludedPathEntries)
	assert.Equal(t, 2, report.ExtensionHistogram[".go"])
	assert.Equal(t, CodePathTraversal, CodeOf(report.Reject()))
}

func TestValidateFlagsSuspiciousRatio(t *testing.T) {
	data := buildZip(t, map[string]string{"bomb.txt": string(make([]byte, 1024*1024))})
	report, err := Validate(bytes.NewReader(data), int64(len(data)), 100)
	require.NoError(t, err)
	assert.True(t, report.HasSuspiciousRatio)
	assert.Equal(t, CodeSuspiciousCompression, CodeOf(report.Reject()))
}

func TestValidateCleanArchivePasses(t *testing.T) {
	data := buildZip(t, map[string]string{"a.go": "package a"})
	report, err := Validate(bytes.NewReader(data), int64(len(data)), 100)
	require.NoError(t, err)
	assert.NoError(t, report.Reject())
	assert.Equal(t, "a.go", report.LargestEntry)
}
