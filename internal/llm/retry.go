package llm

import (
	"context"
	"time"

	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/retry"
)

// retryingClient retries transient model failures per the backoff policy.
// The attempt number is forwarded so the adaptive timeout widens per retry.
type retryingClient struct {
	inner  Client
	policy retry.Policy
}

// WithRetry wraps a client with transient-failure retries.
func WithRetry(inner Client, policy retry.Policy) Client {
	return &retryingClient{inner: inner, policy: policy}
}

func (c *retryingClient) Complete(ctx context.Context, req Request) (*Response, error) {
	for attempt := 1; ; attempt++ {
		req.Attempt = attempt
		resp, err := c.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !rverrors.IsRetryable(err) || attempt > c.policy.MaxRetries {
			return nil, err
		}
		select {
		case <-time.After(c.policy.Delay(attempt)):
		case <-ctx.Done():
			return nil, rverrors.Canceled(ctx.Err(), "model retry canceled")
		}
	}
}
