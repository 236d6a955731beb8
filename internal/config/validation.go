package config

import (
	"fmt"
	"strings"
)

// Validate checks cross-field invariants; defaults must already be applied.
func (c *Config) Validate() error {
	switch c.Blob.Backend {
	case "local", "nats":
	default:
		return fmt.Errorf("blob.backend must be local or nats, got %q", c.Blob.Backend)
	}
	switch c.Queue.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("queue.backend must be memory or nats, got %q", c.Queue.Backend)
	}
	if c.Blob.Backend == "nats" && c.Blob.NATSURL == "" {
		return fmt.Errorf("blob.nats_url is required for the nats backend")
	}
	if c.Queue.Backend == "nats" && c.Queue.NATSURL == "" {
		return fmt.Errorf("queue.nats_url is required for the nats backend")
	}
	if c.Worker.SafetyMargin >= c.Queue.Lease {
		return fmt.Errorf("worker.safety_margin (%s) must be below queue.lease (%s)",
			c.Worker.SafetyMargin, c.Queue.Lease)
	}
	if c.Model.MinTimeout > c.Model.MaxTimeout {
		return fmt.Errorf("model.min_timeout exceeds model.max_timeout")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug|info|warn|error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}
