package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Queue.Lease)
	assert.Equal(t, 5, cfg.Worker.MaxRetries)
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  lease: 10m\nagents:\n  parallelism: 2\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Queue.Lease)
	assert.Equal(t, 2, cfg.Agents.Parallelism)
	// untouched sections keep defaults
	assert.Equal(t, int64(10*1024*1024), cfg.Extractor.MaxFileSize)
	assert.Equal(t, "local", cfg.Blob.Backend)
}

func TestValidateRejectsUnknownBackends(t *testing.T) {
	cfg := Default()
	cfg.Blob.Backend = "s3"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Queue.Backend = "kafka"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresNATSURL(t *testing.T) {
	cfg := Default()
	cfg.Queue.Backend = "nats"
	assert.Error(t, cfg.Validate())

	cfg.Queue.NATSURL = "nats://localhost:4222"
	assert.NoError(t, cfg.Validate())
}

func TestValidateSafetyMarginBelowLease(t *testing.T) {
	cfg := Default()
	cfg.Worker.SafetyMargin = cfg.Queue.Lease
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REVIEWD_BASE_DIR", "/srv/reviewd")
	t.Setenv("REVIEWD_MOCK_MODEL", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/reviewd", cfg.BaseDir)
	assert.True(t, cfg.Model.MockMode)
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	orig := Default()
	orig.Agents.Parallelism = 3
	require.NoError(t, orig.Write(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Agents.Parallelism)
	assert.Equal(t, orig.Queue.Lease, loaded.Queue.Lease)
}
