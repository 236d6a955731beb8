// Package project is the submission and lifecycle core: it creates projects
// from archives or remote URLs, queues analysis runs, exposes progress
// subscriptions and tears projects down with all their artifacts.
package project

import (
	"context"
	"os"
	"strings"
	"time"

	"git.home.luguber.info/inful/reviewd/internal/blob"
	"git.home.luguber.info/inful/reviewd/internal/checkpoint"
	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/ingest"
	"git.home.luguber.info/inful/reviewd/internal/logfields"
	"git.home.luguber.info/inful/reviewd/internal/model"
	"git.home.luguber.info/inful/reviewd/internal/observability"
	"git.home.luguber.info/inful/reviewd/internal/progress"
	"git.home.luguber.info/inful/reviewd/internal/queue"
	"git.home.luguber.info/inful/reviewd/internal/quota"
	"git.home.luguber.info/inful/reviewd/internal/store"
)

// Canceler aborts an in-flight analysis run, if one exists for the project.
type Canceler interface {
	Cancel(projectID string)
}

// Service orchestrates the project lifecycle around the stores and the
// queue. It owns no analysis logic; the worker consumes what it enqueues.
type Service struct {
	store    *store.Store
	blobs    blob.Store
	queue    queue.Queue
	cps      checkpoint.Store
	hub      *progress.Hub
	quota    *quota.Manager
	ingest   *ingest.Service
	canceler Canceler
}

func NewService(st *store.Store, blobs blob.Store, q queue.Queue, cps checkpoint.Store, hub *progress.Hub, qm *quota.Manager, ing *ingest.Service, canceler Canceler) *Service {
	return &Service{
		store:    st,
		blobs:    blobs,
		queue:    q,
		cps:      cps,
		hub:      hub,
		quota:    qm,
		ingest:   ing,
		canceler: canceler,
	}
}

// CreateFromArchive registers a project from an uploaded archive.
func (s *Service) CreateFromArchive(ctx context.Context, sub ingest.ArchiveSubmission) (*model.Project, error) {
	return s.ingest.SubmitArchive(ctx, sub)
}

// CreateFromRemote registers a project from an allowlisted repository URL.
func (s *Service) CreateFromRemote(ctx context.Context, sub ingest.RemoteSubmission) (*model.Project, error) {
	return s.ingest.SubmitRemote(ctx, sub)
}

// StartAnalysis queues an analysis run for a project whose files are ready.
// The concurrency quota is reserved here and released by the worker when the
// run reaches a terminal state.
func (s *Service) StartAnalysis(ctx context.Context, projectID string) error {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.Status != model.StatusFilesReady {
		return rverrors.Conflict("project is not ready for analysis").
			WithContext("project_id", projectID).
			WithContext("status", string(p.Status))
	}

	if err := s.quota.BeginAnalysis(p.OwnerID); err != nil {
		return err
	}
	if err := s.store.UpdateProjectStatus(ctx, projectID, model.StatusFilesReady, model.StatusQueued); err != nil {
		s.quota.EndAnalysis(p.OwnerID)
		return err
	}
	if err := s.queue.Enqueue(ctx, queue.Message{ProjectID: projectID, RequestedAt: time.Now()}, 0); err != nil {
		s.quota.EndAnalysis(p.OwnerID)
		// queue failure leaves the project queued; a retry of StartAnalysis
		// is blocked, so roll the status back
		_ = s.store.UpdateProjectStatus(ctx, projectID, model.StatusQueued, model.StatusFailed)
		return rverrors.WrapTransient(err, "failed to enqueue analysis job")
	}

	s.hub.PublishPhase(projectID, model.PhasePending, "Analysis queued")
	observability.InfoContext(ctx, "Analysis queued", logfields.ProjectID(projectID))
	return nil
}

// Get returns a project by id.
func (s *Service) Get(ctx context.Context, projectID string) (*model.Project, error) {
	return s.store.GetProject(ctx, projectID)
}

// List returns one page of projects, optionally scoped to an owner, newest
// first, along with the total count behind the page.
func (s *Service) List(ctx context.Context, ownerID string, limit, offset int) ([]model.Project, int, error) {
	projects, err := s.store.ListProjects(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountProjects(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}
	return projects, total, nil
}

// LatestReport returns the newest report of a project.
func (s *Service) LatestReport(ctx context.Context, projectID string) (*model.Report, error) {
	return s.store.LatestReport(ctx, projectID)
}

// Subscribe follows a project's live analysis events.
func (s *Service) Subscribe(projectID string) (<-chan progress.Event, func()) {
	return s.hub.Subscribe(projectID)
}

// Reset aborts an in-flight analysis and returns the project to FilesReady.
// The checkpoint and staged findings are discarded; a queue message that
// reappears later observes the fresh status and deletes itself without
// running.
func (s *Service) Reset(ctx context.Context, projectID string) error {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.Status != model.StatusAnalyzing && p.Status != model.StatusQueued {
		return rverrors.Conflict("only queued or analyzing projects can be reset").
			WithContext("project_id", projectID).
			WithContext("status", string(p.Status))
	}

	if s.canceler != nil {
		s.canceler.Cancel(projectID)
	}
	if err := s.store.UpdateProjectStatus(ctx, projectID, p.Status, model.StatusFilesReady); err != nil {
		return err
	}
	if err := s.cps.Delete(ctx, projectID); err != nil {
		return rverrors.WrapInternal(err, "failed to discard checkpoint")
	}
	if err := s.store.DeleteStagedFindings(ctx, projectID); err != nil {
		return err
	}
	s.quota.EndAnalysis(p.OwnerID)

	s.hub.PublishPhase(projectID, model.PhasePending, "Analysis reset")
	observability.InfoContext(ctx, "Project reset", logfields.ProjectID(projectID))
	return nil
}

// Delete removes a project and every artifact it owns: rows, blobs, spill
// files, checkpoint and quota reservation. An in-flight run is canceled
// first.
func (s *Service) Delete(ctx context.Context, projectID string) error {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if s.canceler != nil {
		s.canceler.Cancel(projectID)
	}

	var reclaimed int64
	if p.BlobPath != "" {
		if size, err := s.blobs.SizeOf(ctx, p.BlobPath); err == nil {
			reclaimed = size
		}
		if err := s.blobs.Delete(ctx, p.BlobPath); err != nil && !blob.IsNotFound(err) {
			return rverrors.WrapInternal(err, "failed to delete project blob")
		}
	}

	spills, err := s.store.ListSpillPaths(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if err := s.cps.Delete(ctx, projectID); err != nil {
		return rverrors.WrapInternal(err, "failed to delete checkpoint")
	}
	removeSpillFiles(ctx, spills)

	if reclaimed > 0 {
		s.quota.ReleaseStorage(p.OwnerID, reclaimed)
	}
	observability.InfoContext(ctx, "Project deleted",
		logfields.ProjectID(projectID), logfields.OwnerID(p.OwnerID), logfields.Size(reclaimed))
	return nil
}

func removeSpillFiles(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			observability.WarnContext(ctx, "Failed to remove spill file",
				logfields.Path(p), logfields.Error(err))
		}
	}
}

// ResolveOwner maps a presented API key of the form "prefix.secret" to its
// owner. Lookups and mismatches both come back as a security error so the
// caller cannot distinguish them.
func (s *Service) ResolveOwner(ctx context.Context, presented string) (string, error) {
	prefix, secret, ok := strings.Cut(presented, ".")
	if !ok || prefix == "" || secret == "" {
		return "", rverrors.Security("malformed api key")
	}
	key, err := s.store.GetApiKeyByPrefix(ctx, prefix)
	if err != nil {
		return "", rverrors.Security("unknown api key")
	}
	if !key.Verify(secret) {
		return "", rverrors.Security("unknown api key")
	}
	if err := s.store.TouchApiKey(ctx, key.ID); err != nil {
		observability.WarnContext(ctx, "Failed to record api key use", logfields.Error(err))
	}
	return key.OwnerID, nil
}
