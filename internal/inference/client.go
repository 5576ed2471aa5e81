// Package inference provides the language-model collaborator client for an
// OpenAI-compatible chat completions endpoint, plus a deterministic stub for
// offline runs.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultMaxAttempts = 3
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithModels sets the model names for the two tiers.
func WithModels(costOptimized, capable string) ClientOption {
	return func(c *Client) {
		if costOptimized != "" {
			c.models[ports.TierCostOptimized] = costOptimized
		}
		if capable != "" {
			c.models[ports.TierCapable] = capable
		}
	}
}

// Client implements ports.InferenceClient over HTTP. Transport errors and
// 5xx responses are retried with bounded exponential backoff and surfaced
// as transient; 4xx responses are permanent and never retried.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	models     map[ports.ModelTier]string
}

// NewClient creates an inference client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		models: map[ports.ModelTier]string{
			ports.TierCostOptimized: "gpt-4o-mini",
			ports.TierCapable:       "gpt-4o",
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ports.InferenceClient = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature"`
	N           int           `json:"n,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify sends a classification prompt and returns the raw model output.
func (c *Client) Classify(ctx context.Context, prompt string, tier ports.ModelTier) (string, error) {
	out, err := c.complete(ctx, chatRequest{
		Model:       c.model(tier),
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   300,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", domain.ErrTransient("inference returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// GenerateDrafts sends a drafting prompt and splits the model output on the
// '---' separator the prompt requests.
func (c *Client) GenerateDrafts(ctx context.Context, prompt string, tier ports.ModelTier, maxDrafts int) ([]string, error) {
	out, err := c.complete(ctx, chatRequest{
		Model:       c.model(tier),
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   900,
		Temperature: 0.4,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, domain.ErrTransient("inference returned no choices")
	}
	return SplitDrafts(out.Choices[0].Message.Content, maxDrafts), nil
}

func (c *Client) model(tier ports.ModelTier) string {
	if m, ok := c.models[tier]; ok {
		return m
	}
	return c.models[ports.TierCostOptimized]
}

// complete performs the HTTP exchange with retry. Only transient failures
// are retried, and only while the context allows.
func (c *Client) complete(ctx context.Context, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, domain.ErrInternal("marshal inference request").WithCause(err)
	}

	var out *chatResponse
	operation := func() error {
		resp, err := c.post(ctx, body)
		if err != nil {
			if !domain.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = resp
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, defaultMaxAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, body []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, domain.ErrInternal("create inference request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.ErrTransient("inference request failed").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ErrTransient("read inference response").WithCause(err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrTransient(fmt.Sprintf("inference service returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, domain.ErrInternal(fmt.Sprintf("inference service returned %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, domain.ErrTransient("decode inference response").WithCause(err)
	}
	return &parsed, nil
}

// SplitDrafts splits model output into at most maxDrafts drafts on lines
// containing only '---'.
func SplitDrafts(text string, maxDrafts int) []string {
	if maxDrafts < 1 {
		maxDrafts = 1
	}
	parts := strings.Split(text, "\n---\n")
	drafts := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			drafts = append(drafts, trimmed)
		}
		if len(drafts) == maxDrafts {
			break
		}
	}
	return drafts
}
