package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"git.home.luguber.info/inful/reviewd/internal/model"
)

// CreateFileRecords bulk-inserts the file records of one extraction in a
// single transaction, replacing any previous set for the project.
func (s *Store) CreateFileRecords(ctx context.Context, projectID string, records []model.FileRecord) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM file_records WHERE project_id = ?", projectID); err != nil {
			return fmt.Errorf("clear file records: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO file_records (project_id, relative_path, size, content_hash, language, last_modified)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare file record insert: %w", err)
		}
		defer stmt.Close()

		for i := range records {
			r := &records[i]
			if r.LastModified.IsZero() {
				r.LastModified = time.Now()
			}
			if _, err := stmt.ExecContext(ctx, projectID, r.RelativePath, r.Size, r.ContentHash, r.Language, r.LastModified.Unix()); err != nil {
				return fmt.Errorf("insert file record %s: %w", r.RelativePath, err)
			}
		}
		return nil
	})
}

// ListFileRecords returns a project's file records ordered by path.
func (s *Store) ListFileRecords(ctx context.Context, projectID string) ([]model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, relative_path, size, content_hash, language, last_modified
		FROM file_records WHERE project_id = ? ORDER BY relative_path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query file records: %w", err)
	}
	defer rows.Close()

	var records []model.FileRecord
	for rows.Next() {
		var (
			r        model.FileRecord
			language sql.NullString
			modified int64
		)
		if err := rows.Scan(&r.ProjectID, &r.RelativePath, &r.Size, &r.ContentHash, &language, &modified); err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		r.Language = language.String
		r.LastModified = time.Unix(modified, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountFileRecords reports how many files a project has.
func (s *Store) CountFileRecords(ctx context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM file_records WHERE project_id = ?", projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count file records: %w", err)
	}
	return n, nil
}
