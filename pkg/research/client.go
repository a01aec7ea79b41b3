// Package research is a thin client for the external research provider
// API. Each call is a paid unit of work returning structured facts.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrich-cli/internal/resilience"
)

const defaultBaseURL = "https://api.research.example.com"

// Client performs research lookups against the provider API.
type Client interface {
	Research(ctx context.Context, req Request) (*Response, error)
}

// Request is the body for POST /v1/research.
type Request struct {
	Subject      string          `json:"subject"`
	Domain       string          `json:"domain,omitempty"`
	Jurisdiction string          `json:"jurisdiction,omitempty"`
	Task         string          `json:"task"`
	Depth        string          `json:"depth,omitempty"` // "standard" or "boosted"
	Context      json.RawMessage `json:"context,omitempty"`
}

// Response is the provider's answer: structured facts plus usage metadata.
type Response struct {
	ID    string          `json:"id"`
	Facts json.RawMessage `json:"facts"`
	Usage Usage           `json:"usage"`
}

// Usage reports provider-side consumption for a single call.
type Usage struct {
	Credits float64 `json:"credits"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a research provider client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Research(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "research: rate limit wait")
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "research: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/research", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "research: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "research: request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "research: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("research: status %d: %s", resp.StatusCode, truncate(string(data), 200))
		if resilience.RetryableStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "research: unmarshal response")
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
