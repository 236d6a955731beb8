package store

import (
	"context"
	"database/sql"
	"fmt"

	"git.home.luguber.info/inful/reviewd/internal/model"
)

// UpsertChunks writes chunk records, replacing rows with the same content
// hash for the project. Re-chunking an unchanged file is a no-op set-wise.
func (s *Store) UpsertChunks(ctx context.Context, chunks []model.Chunk) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, project_id, relative_path, start_byte, end_byte, has_embedding, spill_path)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id, project_id) DO UPDATE SET
				relative_path = excluded.relative_path,
				start_byte = excluded.start_byte,
				end_byte = excluded.end_byte,
				has_embedding = excluded.has_embedding,
				spill_path = excluded.spill_path`)
		if err != nil {
			return fmt.Errorf("prepare chunk upsert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			hasEmbedding := 0
			if c.HasEmbedding {
				hasEmbedding = 1
			}
			if _, err := stmt.ExecContext(ctx, c.ID, c.ProjectID, c.RelativePath, c.StartByte, c.EndByte, hasEmbedding, c.SpillPath); err != nil {
				return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// ListChunks returns a project's chunks ordered by path and offset.
func (s *Store) ListChunks(ctx context.Context, projectID string) ([]model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, relative_path, start_byte, end_byte, has_embedding, spill_path
		FROM chunks WHERE project_id = ? ORDER BY relative_path, start_byte`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var (
			c            model.Chunk
			hasEmbedding int
			spillPath    sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.RelativePath, &c.StartByte, &c.EndByte, &hasEmbedding, &spillPath); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.HasEmbedding = hasEmbedding != 0
		c.SpillPath = spillPath.String
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ListSpillPaths returns the spill file paths of a project's chunks, used
// for cleanup on delete.
func (s *Store) ListSpillPaths(ctx context.Context, projectID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT spill_path FROM chunks WHERE project_id = ? AND spill_path IS NOT NULL AND spill_path != ''",
		projectID)
	if err != nil {
		return nil, fmt.Errorf("query spill paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan spill path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
