// Package config loads and validates the reviewd configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	BaseDir   string          `yaml:"base_dir"`
	Store     StoreConfig     `yaml:"store"`
	Blob      BlobConfig      `yaml:"blob"`
	Queue     QueueConfig     `yaml:"queue"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Model     ModelConfig     `yaml:"model"`
	Agents    AgentsConfig    `yaml:"agents"`
	Worker    WorkerConfig    `yaml:"worker"`
	Retry     RetryConfig     `yaml:"retry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig configures the relational store.
type StoreConfig struct {
	// Path is the sqlite database path; ":memory:" for tests.
	Path string `yaml:"path"`
}

// BlobConfig selects the blob store backend.
type BlobConfig struct {
	Backend string `yaml:"backend"` // "local" or "nats"
	NATSURL string `yaml:"nats_url,omitempty"`
	Bucket  string `yaml:"bucket,omitempty"`
}

// QueueConfig selects the durable queue backend.
type QueueConfig struct {
	Backend       string        `yaml:"backend"` // "memory" or "nats"
	NATSURL       string        `yaml:"nats_url,omitempty"`
	Stream        string        `yaml:"stream,omitempty"`
	AnalysisTopic string        `yaml:"analysis_topic"`
	Lease         time.Duration `yaml:"lease"`
}

// ExtractorConfig bounds archive extraction.
type ExtractorConfig struct {
	MaxFileSize      int64   `yaml:"max_file_size"`
	MaxTotalFiles    int     `yaml:"max_total_files"`
	MaxTotalSize     int64   `yaml:"max_total_size"`
	CompressionRatio float64 `yaml:"compression_ratio"`
}

// IngestConfig bounds submissions.
type IngestConfig struct {
	MaxUploadSize int64 `yaml:"max_upload_size"`
	OwnerQuota    int64 `yaml:"owner_quota"`
	VirusScan     bool  `yaml:"virus_scan"`
}

// ModelConfig configures the language-model facade.
type ModelConfig struct {
	Endpoint       string        `yaml:"endpoint,omitempty"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	MockMode       bool          `yaml:"mock_mode"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	BaseTimeout    time.Duration `yaml:"base_timeout"`
	PerTokenBudget time.Duration `yaml:"per_token_budget"`
	MinTimeout     time.Duration `yaml:"min_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	StreamFactor   float64       `yaml:"stream_factor"`
	RetryFactor    float64       `yaml:"retry_factor"`
}

// AgentsConfig bounds the agent runtime.
type AgentsConfig struct {
	Parallelism     int           `yaml:"parallelism"`
	MaxLines        int           `yaml:"max_lines"`
	MaxFileBytes    int64         `yaml:"max_file_bytes"`
	MaxRuleFindings int           `yaml:"max_rule_findings"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	Degradation     bool          `yaml:"degradation"`
	Extensions      []string      `yaml:"extensions,omitempty"`
}

// WorkerConfig tunes the queue consumer loop.
type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	MaxRetries   int           `yaml:"max_retries"`
	SafetyMargin time.Duration `yaml:"safety_margin"`
	// CheckpointTTL controls how long checkpoints of finished projects are
	// retained before the maintenance scheduler prunes them.
	CheckpointTTL time.Duration `yaml:"checkpoint_ttl"`
}

// MetricsConfig enables the Prometheus recorder.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig tunes slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Load reads a YAML config file, applies environment overrides and defaults,
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	// .env values never override the real environment.
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, cfg.Validate()
}

// applyEnvOverrides maps a small set of environment variables onto the
// config, for values that differ per deployment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REVIEWD_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("REVIEWD_NATS_URL"); v != "" {
		cfg.Queue.NATSURL = v
		cfg.Blob.NATSURL = v
	}
	if v := os.Getenv("REVIEWD_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if os.Getenv("REVIEWD_MOCK_MODEL") == "1" {
		cfg.Model.MockMode = true
	}
}

// Write serializes the config to a YAML file, used by `reviewd init`.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
