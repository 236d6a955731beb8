package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/model"
)

// StageFindings persists findings that are not yet attached to a report,
// identified by an empty report_id. Staged rows let a redelivered job skip
// agents whose output is already durable; CreateReport promotes them.
func (s *Store) StageFindings(ctx context.Context, projectID string, findings []model.Finding) error {
	for i := range findings {
		if !findings[i].Anchored() {
			return rverrors.Internal("unanchored finding reached persistence").
				WithContext("project_id", projectID).
				WithContext("description", rverrors.Sanitize(findings[i].Description))
		}
	}
	if len(findings) == 0 {
		return nil
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO findings (id, project_id, report_id, agent, category, severity, file_path,
				start_line, end_line, symbol, description, explanation, suggested_fix,
				original_snippet, fixed_snippet, confidence, created_at)
			VALUES (?, ?, '', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare staged finding insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now()
		for i := range findings {
			f := &findings[i]
			f.ProjectID = projectID
			if f.CreatedAt.IsZero() {
				f.CreatedAt = now
			}
			_, err := stmt.ExecContext(ctx,
				f.ID, f.ProjectID, string(f.Agent), f.Category, string(f.Severity),
				f.FilePath, f.Lines.Start, f.Lines.End, f.Symbol, f.Description, f.Explanation,
				f.SuggestedFix, f.OriginalSnippet, f.FixedSnippet, f.Confidence, f.CreatedAt.Unix(),
			)
			if err != nil {
				return fmt.Errorf("insert staged finding %s: %w", f.ID, err)
			}
		}
		return nil
	})
}

// ListStagedFindings returns a project's staged findings.
func (s *Store) ListStagedFindings(ctx context.Context, projectID string) ([]model.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryFindings(ctx, `project_id = ? AND report_id = ''`, projectID)
}

// DeleteStagedFindings discards a project's staged findings, for example on
// reset before a fresh analysis run.
func (s *Store) DeleteStagedFindings(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM findings WHERE project_id = ? AND report_id = ''`, projectID)
	if err != nil {
		return fmt.Errorf("delete staged findings: %w", err)
	}
	return nil
}
