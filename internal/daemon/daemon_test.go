package daemon

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/reviewd/internal/config"
	"git.home.luguber.info/inful/reviewd/internal/ingest"
	"git.home.luguber.info/inful/reviewd/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.BaseDir = base
	cfg.Store.Path = filepath.Join(base, "reviewd.db")
	cfg.Model.MockMode = true
	cfg.Metrics.Enabled = false
	cfg.Worker.PollInterval = 20 * time.Millisecond
	cfg.Worker.SafetyMargin = time.Second
	return cfg
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDaemonRunsSubmittedAnalysisToCompletion(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, filepath.Join(cfg.BaseDir, "reviewd.yaml"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	defer func() {
		// the worker loop exits on cancellation; Stop then only has to
		// wait for the in-flight iteration
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		assert.NoError(t, d.Stop(stopCtx))
	}()

	payload := buildZip(t, map[string]string{
		"main.go":   "package main\n\nfunc main() {}\n",
		"README.md": "# demo\n\n## Usage\n",
	})
	p, err := d.Projects().CreateFromArchive(ctx, ingest.ArchiveSubmission{
		OwnerID:  "owner-a",
		Name:     "demo",
		FileName: "demo.zip",
		Content:  bytes.NewReader(payload),
	})
	require.NoError(t, err)
	require.NoError(t, d.Projects().StartAnalysis(ctx, p.ID))

	deadline := time.After(10 * time.Second)
	for {
		got, err := d.Projects().Get(ctx, p.ID)
		require.NoError(t, err)
		if got.Status == model.StatusCompleted {
			break
		}
		require.NotEqual(t, model.StatusFailed, got.Status)
		select {
		case <-deadline:
			t.Fatalf("analysis stuck in status %s", got.Status)
		case <-time.After(50 * time.Millisecond):
		}
	}

	report, err := d.Projects().LatestReport(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Findings)
}

func TestDaemonStopsCleanlyAfterCancel(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, filepath.Join(cfg.BaseDir, "reviewd.yaml"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	assert.NoError(t, d.Stop(stopCtx))
}

func TestCollectOrphanedBlobs(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, filepath.Join(cfg.BaseDir, "reviewd.yaml"))
	require.NoError(t, err)
	ctx := context.Background()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = d.Stop(stopCtx)
	}()

	payload := buildZip(t, map[string]string{"main.go": "package main\n"})
	p, err := d.Projects().CreateFromArchive(ctx, ingest.ArchiveSubmission{
		OwnerID:  "owner-a",
		Name:     "kept",
		FileName: "kept.zip",
		Content:  bytes.NewReader(payload),
	})
	require.NoError(t, err)

	_, err = d.blobs.Upload(ctx, "uploads/owner-a/orphan.zip", strings.NewReader("leftover"))
	require.NoError(t, err)

	d.collectOrphanedBlobs()

	exists, err := d.blobs.Exists(ctx, "uploads/owner-a/orphan.zip")
	require.NoError(t, err)
	assert.False(t, exists, "orphan should be collected")

	exists, err = d.blobs.Exists(ctx, p.BlobPath)
	require.NoError(t, err)
	assert.True(t, exists, "referenced blob must survive")
}

func TestOpenBackendsRejectUnknownNames(t *testing.T) {
	cfg := testConfig(t)
	cfg.Blob.Backend = "s3"
	_, err := openBlobStore(cfg)
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.Queue.Backend = "kafka"
	_, err = openQueue(cfg)
	require.Error(t, err)
}
