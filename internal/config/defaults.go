package config

import "time"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseDir: "./reviewd-data",
		Store:   StoreConfig{Path: "./reviewd-data/reviewd.db"},
		Blob:    BlobConfig{Backend: "local", Bucket: "reviewd-blobs"},
		Queue: QueueConfig{
			Backend:       "memory",
			Stream:        "REVIEWD_JOBS",
			AnalysisTopic: "analysis",
			Lease:         5 * time.Minute,
		},
		Extractor: ExtractorConfig{
			MaxFileSize:      10 * 1024 * 1024,
			MaxTotalFiles:    5000,
			MaxTotalSize:     500 * 1024 * 1024,
			CompressionRatio: 100,
		},
		Ingest: IngestConfig{
			MaxUploadSize: 100 * 1024 * 1024,
			OwnerQuota:    1024 * 1024 * 1024,
		},
		Model: ModelConfig{
			APIKeyEnv:      "OPENAI_API_KEY",
			MaxTokens:      4096,
			Temperature:    0.2,
			BaseTimeout:    20 * time.Second,
			PerTokenBudget: 5 * time.Millisecond,
			MinTimeout:     10 * time.Second,
			MaxTimeout:     3 * time.Minute,
			StreamFactor:   1.5,
			RetryFactor:    1.25,
		},
		Agents: AgentsConfig{
			Parallelism:     4,
			MaxLines:        500,
			MaxFileBytes:    1024 * 1024,
			MaxRuleFindings: 50,
			JobTimeout:      30 * time.Minute,
			Degradation:     true,
		},
		Worker: WorkerConfig{
			PollInterval:  2 * time.Second,
			MaxBackoff:    30 * time.Second,
			MaxRetries:    5,
			SafetyMargin:  30 * time.Second,
			CheckpointTTL: 7 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{Enabled: true},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// applyDefaults fills zero values left by a partial YAML file.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.BaseDir == "" {
		cfg.BaseDir = def.BaseDir
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = def.Blob.Backend
	}
	if cfg.Blob.Bucket == "" {
		cfg.Blob.Bucket = def.Blob.Bucket
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = def.Queue.Backend
	}
	if cfg.Queue.Stream == "" {
		cfg.Queue.Stream = def.Queue.Stream
	}
	if cfg.Queue.AnalysisTopic == "" {
		cfg.Queue.AnalysisTopic = def.Queue.AnalysisTopic
	}
	if cfg.Queue.Lease <= 0 {
		cfg.Queue.Lease = def.Queue.Lease
	}
	if cfg.Extractor.MaxFileSize <= 0 {
		cfg.Extractor.MaxFileSize = def.Extractor.MaxFileSize
	}
	if cfg.Extractor.MaxTotalFiles <= 0 {
		cfg.Extractor.MaxTotalFiles = def.Extractor.MaxTotalFiles
	}
	if cfg.Extractor.MaxTotalSize <= 0 {
		cfg.Extractor.MaxTotalSize = def.Extractor.MaxTotalSize
	}
	if cfg.Extractor.CompressionRatio <= 0 {
		cfg.Extractor.CompressionRatio = def.Extractor.CompressionRatio
	}
	if cfg.Ingest.MaxUploadSize <= 0 {
		cfg.Ingest.MaxUploadSize = def.Ingest.MaxUploadSize
	}
	if cfg.Ingest.OwnerQuota <= 0 {
		cfg.Ingest.OwnerQuota = def.Ingest.OwnerQuota
	}
	if cfg.Model.APIKeyEnv == "" {
		cfg.Model.APIKeyEnv = def.Model.APIKeyEnv
	}
	if cfg.Model.MaxTokens <= 0 {
		cfg.Model.MaxTokens = def.Model.MaxTokens
	}
	if cfg.Model.BaseTimeout <= 0 {
		cfg.Model.BaseTimeout = def.Model.BaseTimeout
	}
	if cfg.Model.PerTokenBudget <= 0 {
		cfg.Model.PerTokenBudget = def.Model.PerTokenBudget
	}
	if cfg.Model.MinTimeout <= 0 {
		cfg.Model.MinTimeout = def.Model.MinTimeout
	}
	if cfg.Model.MaxTimeout <= 0 {
		cfg.Model.MaxTimeout = def.Model.MaxTimeout
	}
	if cfg.Model.StreamFactor <= 0 {
		cfg.Model.StreamFactor = def.Model.StreamFactor
	}
	if cfg.Model.RetryFactor <= 0 {
		cfg.Model.RetryFactor = def.Model.RetryFactor
	}
	if cfg.Agents.Parallelism <= 0 {
		cfg.Agents.Parallelism = def.Agents.Parallelism
	}
	if cfg.Agents.MaxLines <= 0 {
		cfg.Agents.MaxLines = def.Agents.MaxLines
	}
	if cfg.Agents.MaxFileBytes <= 0 {
		cfg.Agents.MaxFileBytes = def.Agents.MaxFileBytes
	}
	if cfg.Agents.MaxRuleFindings <= 0 {
		cfg.Agents.MaxRuleFindings = def.Agents.MaxRuleFindings
	}
	if cfg.Agents.JobTimeout <= 0 {
		cfg.Agents.JobTimeout = def.Agents.JobTimeout
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = def.Worker.PollInterval
	}
	if cfg.Worker.MaxBackoff <= 0 {
		cfg.Worker.MaxBackoff = def.Worker.MaxBackoff
	}
	if cfg.Worker.MaxRetries <= 0 {
		cfg.Worker.MaxRetries = def.Worker.MaxRetries
	}
	if cfg.Worker.SafetyMargin <= 0 {
		cfg.Worker.SafetyMargin = def.Worker.SafetyMargin
	}
	if cfg.Worker.CheckpointTTL <= 0 {
		cfg.Worker.CheckpointTTL = def.Worker.CheckpointTTL
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}
