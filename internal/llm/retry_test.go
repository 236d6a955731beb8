package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/reviewd/internal/config"
	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/retry"
)

type flakyClient struct {
	failures int
	attempts []int
	err      error
}

func (c *flakyClient) Complete(_ context.Context, req Request) (*Response, error) {
	c.attempts = append(c.attempts, req.Attempt)
	if len(c.attempts) <= c.failures {
		return nil, c.err
	}
	return &Response{Text: "ok"}, nil
}

func fastPolicy(maxRetries int) retry.Policy {
	return retry.Policy{
		Mode:       config.RetryBackoffFixed,
		Initial:    time.Millisecond,
		Max:        time.Millisecond,
		MaxRetries: maxRetries,
	}
}

func TestWithRetryRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyClient{failures: 2, err: rverrors.Transient("model rate limited")}
	client := WithRetry(inner, fastPolicy(3))

	resp, err := client.Complete(context.Background(), Request{UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	// the attempt number widens the adaptive timeout per retry
	assert.Equal(t, []int{1, 2, 3}, inner.attempts)
}

func TestWithRetryStopsOnFatalError(t *testing.T) {
	inner := &flakyClient{failures: 5, err: rverrors.Fatal("model rejected request")}
	client := WithRetry(inner, fastPolicy(3))

	_, err := client.Complete(context.Background(), Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.Len(t, inner.attempts, 1)
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	inner := &flakyClient{failures: 10, err: rverrors.Transient("model server error")}
	client := WithRetry(inner, fastPolicy(2))

	_, err := client.Complete(context.Background(), Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.True(t, rverrors.IsRetryable(err))
	assert.Len(t, inner.attempts, 3)
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	inner := &flakyClient{failures: 10, err: rverrors.Transient("model server error")}
	policy := fastPolicy(5)
	policy.Initial = time.Second
	policy.Max = time.Second
	client := WithRetry(inner, policy)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Complete(ctx, Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.True(t, rverrors.IsKind(err, rverrors.KindCanceled))
}
