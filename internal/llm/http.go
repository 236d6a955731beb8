package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"git.home.luguber.info/inful/reviewd/internal/config"
	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
)

// HTTPClient talks to an OpenAI-compatible chat completion endpoint.
type HTTPClient struct {
	cfg    config.ModelConfig
	apiKey string
	client *http.Client
}

// NewHTTPClient builds the HTTP model client. The API key is read from the
// environment variable named in the config; an empty key is allowed for
// endpoints that do not authenticate.
func NewHTTPClient(cfg config.ModelConfig) *HTTPClient {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &HTTPClient{
		cfg:    cfg,
		apiKey: apiKey,
		// the per-call context carries the adaptive timeout
		client: &http.Client{},
	}
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
	} `json:"usage"`
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.cfg.Endpoint == "" {
		return nil, rverrors.Fatal("model endpoint not configured")
	}

	tokens := EstimateTokens(req.SystemPrompt + req.UserPrompt)
	timeout := Timeout(c.cfg, tokens, req.Streaming, req.Attempt)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	body, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, rverrors.WrapInternal(err, "marshal model request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, rverrors.WrapInternal(err, "build model request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rverrors.WrapTransient(err, "model call timed out")
		}
		return nil, rverrors.WrapTransient(err, "model call failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, rverrors.WrapTransient(err, "read model response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, rverrors.Transient("model rate limited").WithContext("status", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, rverrors.Transient("model server error").WithContext("status", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, rverrors.Fatal(fmt.Sprintf("model rejected request: status %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, rverrors.WrapFatal(err, "decode model response")
	}
	if len(parsed.Choices) == 0 {
		return nil, rverrors.Fatal("model returned no choices")
	}

	inputTokens := parsed.Usage.PromptTokens
	if inputTokens == 0 {
		inputTokens = tokens
	}
	return &Response{
		Text:        parsed.Choices[0].Message.Content,
		InputTokens: inputTokens,
		Duration:    time.Since(start),
	}, nil
}
