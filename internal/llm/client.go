// Package llm is the single facade in front of the language model. All
// agents go through Client; mock mode produces deterministic output with no
// network I/O.
package llm

import (
	"context"
	"time"

	"git.home.luguber.info/inful/reviewd/internal/config"
)

// Request is the model-call contract.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
	// Streaming widens the adaptive timeout by the configured factor.
	Streaming bool
	// Attempt is 1-based; retries widen the timeout by the retry factor.
	Attempt int
}

// Response carries the raw model output. Callers extract structured
// findings with DecodeFindings.
type Response struct {
	Text        string
	InputTokens int
	Duration    time.Duration
}

// Client completes prompts against the configured model.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// New builds the client selected by the config: the deterministic mock
// when MockMode is set, the HTTP client otherwise.
func New(cfg config.ModelConfig) Client {
	if cfg.MockMode {
		return NewMockClient()
	}
	return NewHTTPClient(cfg)
}

// EstimateTokens approximates the token count of a prompt. Four bytes per
// token is the usual rule of thumb and only feeds the timeout budget.
func EstimateTokens(text string) int {
	return len(text)/4 + 1
}

// Timeout computes the adaptive deadline for one model call:
// clamp(base + perToken*tokens, min, max), widened for streaming and for
// each retry attempt past the first.
func Timeout(cfg config.ModelConfig, inputTokens int, streaming bool, attempt int) time.Duration {
	d := cfg.BaseTimeout + time.Duration(inputTokens)*cfg.PerTokenBudget
	if streaming && cfg.StreamFactor > 0 {
		d = time.Duration(float64(d) * cfg.StreamFactor)
	}
	if attempt > 1 && cfg.RetryFactor > 0 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * cfg.RetryFactor)
		}
	}
	if cfg.MinTimeout > 0 && d < cfg.MinTimeout {
		d = cfg.MinTimeout
	}
	if cfg.MaxTimeout > 0 && d > cfg.MaxTimeout {
		d = cfg.MaxTimeout
	}
	return d
}
