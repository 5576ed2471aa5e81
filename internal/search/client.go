// Package search provides the vector/document retrieval collaborator
// client, plus a fixture-backed stub for offline runs.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client implements ports.VectorSearcher against a JSON search endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a vector search client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ ports.VectorSearcher = (*Client)(nil)

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Results []ports.VectorHit `json:"results"`
}

// VectorSearch queries the document index. Failures are transient: the
// retrieval stage treats them as an empty contribution.
func (c *Client) VectorSearch(ctx context.Context, queryText string, k int) ([]ports.VectorHit, error) {
	body, err := json.Marshal(searchRequest{Query: queryText, TopK: k})
	if err != nil {
		return nil, domain.ErrInternal("marshal search request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, domain.ErrInternal("create search request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.ErrTransient("vector search request failed").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ErrTransient("read vector search response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.ErrTransient(fmt.Sprintf("vector search returned %d", resp.StatusCode))
	}

	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, domain.ErrTransient("decode vector search response").WithCause(err)
	}
	return parsed.Results, nil
}

// Stub is an offline searcher returning canned knowledge-base hits.
// Selecting it is a wiring-time decision, mirroring the inference stub.
type Stub struct{}

// NewStub creates a stub searcher.
func NewStub() *Stub { return &Stub{} }

var _ ports.VectorSearcher = (*Stub)(nil)

// VectorSearch returns fixed hits keyed loosely off the query so the
// pipeline exercises its filtering and ranking paths.
func (s *Stub) VectorSearch(ctx context.Context, queryText string, k int) ([]ports.VectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hits := []ports.VectorHit{
		{Text: "Password reset links expire after 24 hours; request a new one from the sign-in page.", Score: 0.82, SourceURI: "kb://articles/password-reset"},
		{Text: "Account lockouts clear automatically after 30 minutes.", Score: 0.74, SourceURI: "kb://articles/account-lockout"},
		{Text: "Browser extensions can interfere with the checkout flow.", Score: 0.41, SourceURI: "kb://articles/checkout-issues"},
	}
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}
