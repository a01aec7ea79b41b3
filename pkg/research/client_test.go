package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/resilience"
)

func TestClientResearch(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/research", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "res_123",
			"facts": {"legal_name": "Acme GmbH", "employees": 120},
			"usage": {"credits": 1.5}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	resp, err := c.Research(context.Background(), Request{
		Subject:      "Acme GmbH",
		Domain:       "acme.de",
		Jurisdiction: "de",
		Task:         "company_l2",
		Depth:        "boosted",
	})
	require.NoError(t, err)

	assert.Equal(t, "Acme GmbH", got.Subject)
	assert.Equal(t, "company_l2", got.Task)
	assert.Equal(t, "boosted", got.Depth)

	assert.Equal(t, "res_123", resp.ID)
	assert.JSONEq(t, `{"legal_name": "Acme GmbH", "employees": 120}`, string(resp.Facts))
	assert.InDelta(t, 1.5, resp.Usage.Credits, 1e-9)
}

func TestClientResearch_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	_, err := c.Research(context.Background(), Request{Subject: "Acme", Task: "company_l1"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "status 503")
}

func TestClientResearch_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown task", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	_, err := c.Research(context.Background(), Request{Subject: "Acme", Task: "bogus"})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "status 400")
}

func TestClientResearch_RateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"res_1","facts":{}}`))
	}))
	defer srv.Close()

	// Burst 1: the second call must wait far longer than the context allows.
	c := NewClient("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithRateLimit(0.01, 1))

	_, err := c.Research(context.Background(), Request{Subject: "First", Task: "company_l1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Research(ctx, Request{Subject: "Second", Task: "company_l1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "long bod...", truncate("long body text", 8))
}
