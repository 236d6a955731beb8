package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/model"
)

// CreateReport persists a report and its findings atomically. Every
// finding must be anchored to a file path or symbol; the orchestrator
// demotes unanchored model output before it gets here.
func (s *Store) CreateReport(ctx context.Context, report *model.Report) error {
	for i := range report.Findings {
		if !report.Findings[i].Anchored() {
			return rverrors.Internal("unanchored finding reached persistence").
				WithContext("report_id", report.ID).
				WithContext("description", rverrors.Sanitize(report.Findings[i].Description))
		}
	}

	countsJSON, err := json.Marshal(report.Counts)
	if err != nil {
		return fmt.Errorf("marshal severity counts: %w", err)
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		// staged findings are promoted into the report's own rows
		_, err := tx.ExecContext(ctx,
			`DELETE FROM findings WHERE project_id = ? AND report_id = ''`, report.ProjectID)
		if err != nil {
			return fmt.Errorf("clear staged findings: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reports (id, project_id, health_score, counts, summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			report.ID, report.ProjectID, report.HealthScore, countsJSON, report.Summary, report.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert report: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO findings (id, project_id, report_id, agent, category, severity, file_path,
				start_line, end_line, symbol, description, explanation, suggested_fix,
				original_snippet, fixed_snippet, confidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare finding insert: %w", err)
		}
		defer stmt.Close()

		for i := range report.Findings {
			f := &report.Findings[i]
			f.ReportID = report.ID
			f.ProjectID = report.ProjectID
			if f.CreatedAt.IsZero() {
				f.CreatedAt = report.CreatedAt
			}
			_, err := stmt.ExecContext(ctx,
				f.ID, f.ProjectID, f.ReportID, string(f.Agent), f.Category, string(f.Severity),
				f.FilePath, f.Lines.Start, f.Lines.End, f.Symbol, f.Description, f.Explanation,
				f.SuggestedFix, f.OriginalSnippet, f.FixedSnippet, f.Confidence, f.CreatedAt.Unix(),
			)
			if err != nil {
				return fmt.Errorf("insert finding %s: %w", f.ID, err)
			}
		}
		return nil
	})
}

// LatestReport returns a project's newest report with findings loaded, or
// a not-found error when the project has none.
func (s *Store) LatestReport(ctx context.Context, projectID string) (*model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, health_score, counts, summary, created_at
		FROM reports WHERE project_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, projectID)

	var (
		r          model.Report
		countsJSON []byte
		created    int64
	)
	err := row.Scan(&r.ID, &r.ProjectID, &r.HealthScore, &countsJSON, &r.Summary, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rverrors.NotFound("no report for project").WithContext("project_id", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	r.CreatedAt = time.Unix(created, 0)
	if err := json.Unmarshal(countsJSON, &r.Counts); err != nil {
		return nil, fmt.Errorf("unmarshal severity counts: %w", err)
	}

	findings, err := s.listFindings(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Findings = findings
	return &r, nil
}

func (s *Store) listFindings(ctx context.Context, reportID string) ([]model.Finding, error) {
	return s.queryFindings(ctx, `report_id = ?`, reportID)
}

func (s *Store) queryFindings(ctx context.Context, where string, args ...any) ([]model.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, report_id, agent, category, severity, file_path,
			start_line, end_line, symbol, description, explanation, suggested_fix,
			original_snippet, fixed_snippet, confidence, created_at
		FROM findings WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	var findings []model.Finding
	for rows.Next() {
		var (
			f                                           model.Finding
			agent, severity                             string
			filePath, symbol, explanation, suggestedFix sql.NullString
			originalSnippet, fixedSnippet               sql.NullString
			created                                     int64
		)
		err := rows.Scan(&f.ID, &f.ProjectID, &f.ReportID, &agent, &f.Category, &severity,
			&filePath, &f.Lines.Start, &f.Lines.End, &symbol, &f.Description, &explanation,
			&suggestedFix, &originalSnippet, &fixedSnippet, &f.Confidence, &created)
		if err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Agent = model.AgentKind(agent)
		f.Severity = model.Severity(severity)
		f.FilePath = filePath.String
		f.Symbol = symbol.String
		f.Explanation = explanation.String
		f.SuggestedFix = suggestedFix.String
		f.OriginalSnippet = originalSnippet.String
		f.FixedSnippet = fixedSnippet.String
		f.CreatedAt = time.Unix(created, 0)
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	model.SortFindings(findings)
	return findings, nil
}
