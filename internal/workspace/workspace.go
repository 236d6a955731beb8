package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/reviewd/internal/logfields"
)

// Workspace is the scratch directory tree for one analysis job.
type Workspace struct {
	JobID      string
	Root       string
	ArchiveDir string // fetched archive payloads
	SourceDir  string // extracted source tree
	ChunksDir  string // spilled chunk files
}

// Manager hands out per-job workspaces under a common base directory.
type Manager struct {
	baseDir string
}

// NewManager creates a workspace manager. An empty baseDir falls back to
// the system temp directory.
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "reviewd")
	}
	return &Manager{baseDir: baseDir}
}

// Acquire creates the directory tree for a job. Acquiring the same job ID
// again returns the same paths with any previous content intact, which lets
// a redelivered job reuse a surviving extraction.
func (m *Manager) Acquire(jobID string) (*Workspace, error) {
	safe := sanitizeID(jobID)
	if safe == "" {
		return nil, fmt.Errorf("invalid job id %q", jobID)
	}

	root := filepath.Join(m.baseDir, safe)
	ws := &Workspace{
		JobID:      jobID,
		Root:       root,
		ArchiveDir: filepath.Join(root, "archive"),
		SourceDir:  filepath.Join(root, "source"),
		ChunksDir:  filepath.Join(root, "chunks"),
	}
	for _, dir := range []string{ws.ArchiveDir, ws.SourceDir, ws.ChunksDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create workspace directory: %w", err)
		}
	}
	slog.Debug("Acquired workspace", logfields.Path(root))
	return ws, nil
}

// Release removes the job's directory tree.
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil || ws.Root == "" {
		return nil
	}
	if err := os.RemoveAll(ws.Root); err != nil {
		return fmt.Errorf("release workspace: %w", err)
	}
	slog.Debug("Released workspace", logfields.Path(ws.Root))
	return nil
}

// Sweep removes job directories whose content has not been touched within
// maxAge. Crashed workers leave trees behind; the maintenance scheduler
// calls this periodically.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read workspace base: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("Failed to sweep stale workspace", logfields.Path(path), logfields.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Swept stale workspaces", slog.Int("removed", removed))
	}
	return removed, nil
}

// sanitizeID maps a job ID to a safe directory name. Anything outside
// [a-zA-Z0-9._-] becomes an underscore and leading dots are stripped.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
