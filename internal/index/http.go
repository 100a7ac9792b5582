package index

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultRatePerSecond = 5

// Option configures the HTTP indexer client.
type Option func(*httpIndexer)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpIndexer) {
		c.http = hc
	}
}

// WithRateLimit overrides the default requests-per-second cap.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpIndexer) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

type httpIndexer struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPIndexer creates an Indexer backed by an external embedding service.
// Requests are rate limited so bulk ingestion cannot saturate the service.
func NewHTTPIndexer(baseURL, apiKey string, opts ...Option) Indexer {
	c := &httpIndexer{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRatePerSecond), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpIndexer) Index(ctx context.Context, doc Document) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "index: rate limit wait")
	}
	var out struct {
		Indexed bool `json:"indexed"`
	}
	if err := c.post(ctx, "/documents", doc, &out); err != nil {
		return err
	}
	if !out.Indexed {
		return eris.Errorf("index: service did not index doc %s", doc.DocID)
	}
	return nil
}

type searchRequest struct {
	Query     string `json:"query"`
	ProjectID string `json:"project_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (c *httpIndexer) Search(ctx context.Context, query, projectID string, limit int) ([]Hit, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "index: rate limit wait")
	}
	var out struct {
		Hits []Hit `json:"hits"`
	}
	req := searchRequest{Query: query, ProjectID: projectID, Limit: limit}
	if err := c.post(ctx, "/search", req, &out); err != nil {
		return nil, err
	}
	return out.Hits, nil
}

func (c *httpIndexer) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "index: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "index: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return eris.Wrapf(err, "index: POST %s", path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "index: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("index: unexpected status %d from %s: %s", resp.StatusCode, path, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "index: unmarshal response")
	}
	return nil
}
