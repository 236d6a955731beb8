package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/model"
)

// CreateProject inserts a new project.
func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, status, owner_id, blob_path, source_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, string(p.Status), p.OwnerID, p.BlobPath, p.SourceURL,
		p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, owner_id, blob_path, source_url, created_at, updated_at
		FROM projects WHERE id = ?`, id)
	p, err := scanProject(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rverrors.NotFound("project not found").WithContext("project_id", id)
	}
	return p, err
}

// ListProjects returns projects newest first, optionally filtered by owner.
func (s *Store) ListProjects(ctx context.Context, ownerID string, limit, offset int) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, name, description, status, owner_id, blob_path, source_url, created_at, updated_at
		FROM projects`
	args := []any{}
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// CountProjects reports how many projects exist, optionally filtered by
// owner. Paired with ListProjects it makes a paged listing.
func (s *Store) CountProjects(ctx context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT COUNT(*) FROM projects"
	args := []any{}
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return total, nil
}

// ListBlobPaths returns every blob key referenced by a project. The blob
// garbage collector uses this to spot orphaned uploads.
func (s *Store) ListBlobPaths(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT blob_path FROM projects WHERE blob_path != ''")
	if err != nil {
		return nil, fmt.Errorf("query blob paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan blob path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// UpdateProjectStatus moves a project from one status to another. The
// update is conditional on the current status, so a concurrent transition
// surfaces as a conflict instead of silently winning.
func (s *Store) UpdateProjectStatus(ctx context.Context, id string, from, to model.ProjectStatus) error {
	if !model.CanTransition(from, to) {
		return rverrors.Conflict(fmt.Sprintf("illegal status transition %s -> %s", from, to)).
			WithContext("project_id", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE projects SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), time.Now().Unix(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project status: %w", err)
	}
	if n == 0 {
		return rverrors.Conflict("project status changed concurrently").
			WithContext("project_id", id).WithContext("expected", string(from))
	}
	return nil
}

// DeleteProject removes a project and its dependent rows. Blob and spill
// cleanup is the caller's responsibility.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			"DELETE FROM findings WHERE project_id = ?",
			"DELETE FROM reports WHERE project_id = ?",
			"DELETE FROM chunks WHERE project_id = ?",
			"DELETE FROM file_records WHERE project_id = ?",
			"DELETE FROM projects WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("cascade delete project: %w", err)
			}
		}
		return nil
	})
}

func scanProject(scan func(dest ...any) error) (*model.Project, error) {
	var (
		p           model.Project
		status      string
		description sql.NullString
		blobPath    sql.NullString
		sourceURL   sql.NullString
		created     int64
		updated     int64
	)
	if err := scan(&p.ID, &p.Name, &description, &status, &p.OwnerID, &blobPath, &sourceURL, &created, &updated); err != nil {
		return nil, err
	}
	p.Status = model.ProjectStatus(status)
	p.Description = description.String
	p.BlobPath = blobPath.String
	p.SourceURL = sourceURL.String
	p.CreatedAt = time.Unix(created, 0)
	p.UpdatedAt = time.Unix(updated, 0)
	return &p, nil
}
