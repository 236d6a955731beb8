// Package ingest accepts project submissions, either an uploaded archive or
// a remote repository URL, and turns them into stored projects with file
// records ready for analysis. Uploads are spooled, validated, scanned and
// placed in the blob store under a randomized per-owner key before any
// extraction happens.
package ingest

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/src-d/enry/v2"

	"git.home.luguber.info/inful/reviewd/internal/blob"
	"git.home.luguber.info/inful/reviewd/internal/config"
	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/extract"
	"git.home.luguber.info/inful/reviewd/internal/logfields"
	"git.home.luguber.info/inful/reviewd/internal/model"
	"git.home.luguber.info/inful/reviewd/internal/observability"
	"git.home.luguber.info/inful/reviewd/internal/quota"
	"git.home.luguber.info/inful/reviewd/internal/store"
)

// VirusScanner inspects an upload before it is accepted. Implementations
// return a security-kind error for infected content.
type VirusScanner interface {
	Scan(ctx context.Context, r io.Reader) error
}

// zipMagic are the two valid local headers of a zip stream: a regular entry
// and the empty-archive end record.
var zipMagic = [][]byte{
	{0x50, 0x4b, 0x03, 0x04},
	{0x50, 0x4b, 0x05, 0x06},
}

const (
	maxNameLength        = 200
	languageSampleBytes  = 16 * 1024
	defaultMaxUploadSize = 256 << 20
)

// Service is the submission core.
type Service struct {
	blobs   blob.Store
	store   *store.Store
	quota   *quota.Manager
	scanner VirusScanner
	cfg     config.IngestConfig
	extCfg  config.ExtractorConfig
}

func New(blobs blob.Store, st *store.Store, qm *quota.Manager, scanner VirusScanner, cfg config.IngestConfig, extCfg config.ExtractorConfig) *Service {
	return &Service{
		blobs:   blobs,
		store:   st,
		quota:   qm,
		scanner: scanner,
		cfg:     cfg,
		extCfg:  extCfg,
	}
}

// ArchiveSubmission is an uploaded zip archive.
type ArchiveSubmission struct {
	OwnerID     string
	Name        string
	Description string
	FileName    string
	// ContentType is the declared MIME type of the upload. Empty is
	// accepted; a declared type must be on the allowlist.
	ContentType string
	Content     io.Reader
}

// allowedContentTypes are the declared MIME types accepted for archive
// uploads: the zip types plus the generic binary type many clients send.
var allowedContentTypes = map[string]struct{}{
	"application/zip":              {},
	"application/x-zip-compressed": {},
	"application/octet-stream":     {},
}

func validateContentType(contentType string) error {
	if contentType == "" {
		return nil
	}
	mediaType := contentType
	if base, _, ok := strings.Cut(contentType, ";"); ok {
		mediaType = base
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if _, ok := allowedContentTypes[mediaType]; !ok {
		return rverrors.Validation("unsupported content type for archive upload").
			WithContext("content_type", contentType)
	}
	return nil
}

// SubmitArchive validates, stores and indexes an uploaded archive. On
// success the project is in status FilesReady with its file records
// persisted; any failure rolls back the blob and the quota reservation.
func (s *Service) SubmitArchive(ctx context.Context, sub ArchiveSubmission) (*model.Project, error) {
	if err := validateSubmissionName(sub.Name); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(sub.FileName), ".zip") {
		return nil, rverrors.Validation("only zip archives are accepted").
			WithContext("file_name", sub.FileName)
	}
	if err := validateContentType(sub.ContentType); err != nil {
		return nil, err
	}

	spool, size, err := s.spoolUpload(sub.Content)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	if err := checkZipMagic(spool); err != nil {
		return nil, err
	}
	if s.scanner != nil {
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			return nil, rverrors.WrapInternal(err, "failed to rewind upload spool")
		}
		if err := s.scanner.Scan(ctx, spool); err != nil {
			return nil, rverrors.Security("upload rejected by virus scan").
				WithContext("owner_id", sub.OwnerID)
		}
	}

	return s.ingestSpool(ctx, sub.OwnerID, sub.Name, sub.Description, "", spool, size)
}

// spoolUpload copies the upload to a temp file, enforcing the size ceiling
// while streaming.
func (s *Service) spoolUpload(r io.Reader) (*os.File, int64, error) {
	maxSize := s.cfg.MaxUploadSize
	if maxSize <= 0 {
		maxSize = defaultMaxUploadSize
	}

	spool, err := os.CreateTemp("", "reviewd-upload-*.zip")
	if err != nil {
		return nil, 0, rverrors.WrapInternal(err, "failed to create upload spool")
	}
	size, err := io.Copy(spool, io.LimitReader(r, maxSize+1))
	if err != nil {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
		return nil, 0, rverrors.WrapInternal(err, "failed to spool upload")
	}
	if size > maxSize {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
		return nil, 0, rverrors.Validation("upload exceeds the size limit").
			WithContext("limit", humanize.Bytes(uint64(maxSize)))
	}
	if size == 0 {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
		return nil, 0, rverrors.Validation("upload is empty")
	}
	return spool, size, nil
}

func checkZipMagic(spool *os.File) error {
	header := make([]byte, 4)
	if _, err := spool.ReadAt(header, 0); err != nil {
		return rverrors.Validation("upload is not a zip archive")
	}
	for _, magic := range zipMagic {
		if bytes.Equal(header, magic) {
			return nil
		}
	}
	return rverrors.Validation("upload is not a zip archive")
}

// ingestSpool runs the shared tail of both submission paths: quota
// reservation, blob upload, project creation, trial extraction and file
// record persistence.
func (s *Service) ingestSpool(ctx context.Context, ownerID, name, description, sourceURL string, spool *os.File, size int64) (project *model.Project, err error) {
	if err := s.quota.ReserveStorage(ownerID, size); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.quota.ReleaseStorage(ownerID, size)
		}
	}()

	blobKey := "uploads/" + ownerID + "/" + uuid.NewString() + ".zip"
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, rverrors.WrapInternal(err, "failed to rewind upload spool")
	}
	if _, err := s.blobs.Upload(ctx, blobKey, spool); err != nil {
		return nil, rverrors.WrapInternal(err, "failed to store upload")
	}
	defer func() {
		if err != nil {
			_ = s.blobs.Delete(ctx, blobKey)
		}
	}()

	project = &model.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Status:      model.StatusCreated,
		OwnerID:     ownerID,
		BlobPath:    blobKey,
		SourceURL:   sourceURL,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = s.store.DeleteProject(ctx, project.ID)
		}
	}()

	records, err := s.indexArchive(ctx, project.ID, spool, size)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, rverrors.Validation("archive contains no analyzable files")
	}
	if err := s.store.CreateFileRecords(ctx, project.ID, records); err != nil {
		return nil, err
	}

	if err := s.store.UpdateProjectStatus(ctx, project.ID, model.StatusCreated, model.StatusFilesReady); err != nil {
		return nil, err
	}
	project.Status = model.StatusFilesReady

	observability.InfoContext(ctx, "Submission accepted",
		logfields.ProjectID(project.ID), logfields.OwnerID(ownerID),
		logfields.Size(size), logfields.Path(blobKey))
	return project, nil
}

// indexArchive extracts the archive into a throwaway directory to validate
// it end to end and derive the file records. The worker re-extracts into
// its own workspace when the job runs.
func (s *Service) indexArchive(ctx context.Context, projectID string, spool *os.File, size int64) ([]model.FileRecord, error) {
	report, err := extract.Validate(spool, size, s.extCfg.CompressionRatio)
	if err != nil {
		return nil, err
	}
	if err := report.Reject(); err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "reviewd-ingest-*")
	if err != nil {
		return nil, rverrors.WrapInternal(err, "failed to create extraction dir")
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	files, err := extract.Extract(ctx, spool, size, tmpDir, extract.Options{
		MaxFileSize:         s.extCfg.MaxFileSize,
		MaxTotalFiles:       s.extCfg.MaxTotalFiles,
		MaxTotalSize:        s.extCfg.MaxTotalSize,
		MaxCompressionRatio: s.extCfg.CompressionRatio,
	})
	if err != nil {
		return nil, err
	}

	records := make([]model.FileRecord, 0, len(files))
	for _, f := range files {
		records = append(records, model.FileRecord{
			ProjectID:    projectID,
			RelativePath: f.RelativePath,
			Size:         f.Size,
			ContentHash:  f.ContentHash,
			Language:     detectLanguage(f.AbsolutePath, f.RelativePath),
		})
	}
	return records, nil
}

// detectLanguage samples the file head and classifies it with enry. An
// unreadable file gets the filename-only classification.
func detectLanguage(absPath, relPath string) string {
	sample, err := readSample(absPath)
	if err != nil {
		sample = nil
	}
	return enry.GetLanguage(filepath.Base(relPath), sample)
}

func readSample(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, languageSampleBytes))
}

func validateSubmissionName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return rverrors.Validation("project name is required")
	}
	if len(name) > maxNameLength {
		return rverrors.Validation("project name is too long")
	}
	return nil
}
