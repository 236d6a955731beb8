package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/reviewd/internal/config"
	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
)

func timeoutCfg() config.ModelConfig {
	return config.ModelConfig{
		BaseTimeout:    20 * time.Second,
		PerTokenBudget: 5 * time.Millisecond,
		MinTimeout:     10 * time.Second,
		MaxTimeout:     3 * time.Minute,
		StreamFactor:   1.5,
		RetryFactor:    1.25,
	}
}

func TestTimeoutClamping(t *testing.T) {
	cfg := timeoutCfg()

	// base + perToken within bounds
	assert.Equal(t, 25*time.Second, Timeout(cfg, 1000, false, 1))

	// huge prompt hits the ceiling
	assert.Equal(t, 3*time.Minute, Timeout(cfg, 1_000_000, false, 1))

	// tiny prompt floors at the minimum
	small := cfg
	small.BaseTimeout = time.Second
	assert.Equal(t, 10*time.Second, Timeout(small, 0, false, 1))
}

func TestTimeoutFactors(t *testing.T) {
	cfg := timeoutCfg()

	base := Timeout(cfg, 1000, false, 1)
	streamed := Timeout(cfg, 1000, true, 1)
	assert.Equal(t, time.Duration(float64(base)*1.5), streamed)

	retried := Timeout(cfg, 1000, false, 2)
	assert.Equal(t, time.Duration(float64(base)*1.25), retried)
}

func TestNewSelectsMock(t *testing.T) {
	client := New(config.ModelConfig{MockMode: true})
	_, ok := client.(*MockClient)
	assert.True(t, ok)

	client = New(config.ModelConfig{Endpoint: "http://localhost:1"})
	_, ok = client.(*HTTPClient)
	assert.True(t, ok)
}

func TestHTTPClientStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		wantKind  rverrors.Kind
		retryable bool
	}{
		{http.StatusTooManyRequests, rverrors.KindTransient, true},
		{http.StatusInternalServerError, rverrors.KindTransient, true},
		{http.StatusBadRequest, rverrors.KindFatal, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		cfg := timeoutCfg()
		cfg.Endpoint = srv.URL
		client := NewHTTPClient(cfg)

		_, err := client.Complete(context.Background(), Request{UserPrompt: "hi", Attempt: 1})
		require.Error(t, err, "status %d", tc.status)
		assert.True(t, rverrors.IsKind(err, tc.wantKind), "status %d", tc.status)
		assert.Equal(t, tc.retryable, rverrors.IsRetryable(err), "status %d", tc.status)
		srv.Close()
	}
}

func TestHTTPClientSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"[{\"title\":\"X\"}]"}}],"usage":{"prompt_tokens":7}}`))
	}))
	defer srv.Close()

	cfg := timeoutCfg()
	cfg.Endpoint = srv.URL
	client := NewHTTPClient(cfg)

	resp, err := client.Complete(context.Background(), Request{UserPrompt: "review this", Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, `[{"title":"X"}]`, resp.Text)
	assert.Equal(t, 7, resp.InputTokens)
}

func TestMockClientDeterministicAndAnchored(t *testing.T) {
	client := NewMockClient()
	prompt := "Project: demo\n" + FileHeader + "src/main.go\n" + FileHeader + "src/util.go\n"

	r1, err := client.Complete(context.Background(), Request{UserPrompt: prompt})
	require.NoError(t, err)
	r2, err := client.Complete(context.Background(), Request{UserPrompt: prompt})
	require.NoError(t, err)
	assert.Equal(t, r1.Text, r2.Text)

	findings, err := DecodeFindings(r1.Text)
	require.NoError(t, err)
	require.Len(t, findings, 3)
	assert.Equal(t, "src/main.go", string(findings[0].FilePath))
	assert.Equal(t, "src/util.go", string(findings[1].FilePath))
	// trailing summary finding is unanchored on purpose
	assert.Empty(t, string(findings[2].FilePath))
}

func TestMockClientVariesByPrompt(t *testing.T) {
	client := NewMockClient()
	r1, err := client.Complete(context.Background(), Request{UserPrompt: FileHeader + "a.go\n"})
	require.NoError(t, err)
	r2, err := client.Complete(context.Background(), Request{UserPrompt: FileHeader + "b.go\n"})
	require.NoError(t, err)
	assert.NotEqual(t, r1.Text, r2.Text)
}
