// Package model holds the core entities of the review pipeline: projects,
// file records, findings, reports and their lifecycle rules.
package model

import (
	"fmt"
	"time"
)

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	StatusCreated    ProjectStatus = "created"
	StatusFilesReady ProjectStatus = "files_ready"
	StatusQueued     ProjectStatus = "queued"
	StatusAnalyzing  ProjectStatus = "analyzing"
	StatusCompleted  ProjectStatus = "completed"
	StatusFailed     ProjectStatus = "failed"
)

// statusRank orders statuses for the monotonic transition check.
var statusRank = map[ProjectStatus]int{
	StatusCreated:    0,
	StatusFilesReady: 1,
	StatusQueued:     2,
	StatusAnalyzing:  3,
	StatusCompleted:  4,
	StatusFailed:     4,
}

// CanTransition reports whether a project may move from one status to
// another. Transitions go forward only, with two exceptions: Analyzing may
// return to FilesReady on an explicit reset, and Analyzing may return to
// Queued when a lease expires and the job is re-delivered.
func CanTransition(from, to ProjectStatus) bool {
	if from == to {
		return true
	}
	if from == StatusAnalyzing && (to == StatusFilesReady || to == StatusQueued) {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// IsTerminal reports whether the status is a terminal state.
func (s ProjectStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Project is a submitted repository under analysis.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	OwnerID     string        `json:"owner_id"`
	BlobPath    string        `json:"blob_path,omitempty"`
	SourceURL   string        `json:"source_url,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Transition updates the project status, enforcing the transition rules.
func (p *Project) Transition(to ProjectStatus) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("illegal status transition %s -> %s for project %s", p.Status, to, p.ID)
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return nil
}

// FileRecord describes one extracted source file. Records are immutable
// after bulk creation.
type FileRecord struct {
	ProjectID    string    `json:"project_id"`
	RelativePath string    `json:"relative_path"`
	Size         int64     `json:"size"`
	ContentHash  string    `json:"content_hash"` // hex SHA-256
	Language     string    `json:"language,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Chunk is a byte range of a file record, addressed by content hash and
// referenced by the vector index.
type Chunk struct {
	ID           string `json:"id"` // content hash
	ProjectID    string `json:"project_id"`
	RelativePath string `json:"relative_path"`
	StartByte    int64  `json:"start_byte"`
	EndByte      int64  `json:"end_byte"`
	HasEmbedding bool   `json:"has_embedding"`
	SpillPath    string `json:"spill_path,omitempty"`
}
