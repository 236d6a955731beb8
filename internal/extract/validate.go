package extract

import (
	"archive/zip"
	"io"
	"path/filepath"
	"strings"
)

// Report is the non-mutating result of a pre-flight archive scan.
type Report struct {
	Entries             int
	DirectoryEntries    int
	TotalUncompressed   int64
	LargestEntry        string
	LargestEntrySize    int64
	ExtensionHistogram  map[string]int
	HasPathTraversal    bool
	SuspiciousEntry     string
	HasSuspiciousRatio  bool
	DeniedTypeEntries   int
	ExcludedPathEntries int
}

// Validate scans an archive without extracting anything. Ingest runs this
// before extraction so hostile archives are rejected before any bytes reach
// disk.
func Validate(ra io.ReaderAt, size int64, maxRatio float64) (*Report, error) {
	if maxRatio <= 0 {
		maxRatio = defaultMaxCompressionRatio
	}
	reader, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, &Error{Code: CodeInvalidArchive, Cause: err}
	}

	report := &Report{ExtensionHistogram: make(map[string]int)}
	for _, entry := range reader.File {
		name := entry.Name
		if name == "" || strings.HasSuffix(name, "/") || entry.FileInfo().IsDir() {
			report.DirectoryEntries++
			continue
		}
		report.Entries++

		declared := int64(entry.UncompressedSize64)
		report.TotalUncompressed += declared
		if declared > report.LargestEntrySize {
			report.LargestEntrySize = declared
			report.LargestEntry = name
		}

		ext := strings.ToLower(filepath.Ext(name))
		if ext == "" {
			ext = "(none)"
		}
		report.ExtensionHistogram[ext]++

		if containsDotDot(name) {
			report.HasPathTraversal = true
		}
		if ExtensionDenied(name) {
			report.DeniedTypeEntries++
		}
		if HasExcludedSegment(name) {
			report.ExcludedPathEntries++
		}

		compressed := int64(entry.CompressedSize64)
		if declared > 0 && (compressed == 0 || float64(declared)/float64(compressed) > maxRatio) {
			if !report.HasSuspiciousRatio {
				report.SuspiciousEntry = name
			}
			report.HasSuspiciousRatio = true
		}
	}
	return report, nil
}

// Reject converts a validation report into the extraction error a full run
// would have produced, or nil if the archive passes pre-flight.
func (r *Report) Reject() error {
	if r.HasPathTraversal {
		return &Error{Code: CodePathTraversal}
	}
	if r.HasSuspiciousRatio {
		return &Error{Code: CodeSuspiciousCompression, Entry: r.SuspiciousEntry}
	}
	return nil
}
