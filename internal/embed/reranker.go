package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	temoaerr "github.com/pborenstein/temoa/internal/errors"
)

// Reranker service defaults.
const (
	DefaultRerankerEndpoint = "http://localhost:9659"
	DefaultRerankerModel    = "reranker-small"
	DefaultRerankerTimeout  = 30 * time.Second
)

// RerankerConfig configures the HTTP cross-encoder client.
type RerankerConfig struct {
	// Endpoint is the reranker service URL (default: http://localhost:9659).
	Endpoint string

	// Model is the reranker model alias (default: reranker-small).
	Model string

	// Timeout is the request timeout (default: 30s).
	Timeout time.Duration

	// SkipHealthCheck skips the startup probe (for testing).
	SkipHealthCheck bool
}

// HTTPReranker implements CrossEncoder against a local reranker service
// exposing POST /rerank.
type HTTPReranker struct {
	client *http.Client
	config RerankerConfig

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time.
var _ CrossEncoder = (*HTTPReranker)(nil)

// NewHTTPReranker creates a new reranker client.
func NewHTTPReranker(ctx context.Context, cfg RerankerConfig) (*HTTPReranker, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankerEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultRerankerModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}

	r := &HTTPReranker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if !r.Available(checkCtx) {
			return nil, temoaerr.New(temoaerr.ErrCodeModelInit,
				fmt.Sprintf("reranker service unreachable at %s", cfg.Endpoint), nil)
		}
	}

	return r, nil
}

// rerankRequest is the JSON request to /rerank.
type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

// rerankResponse is the JSON response from /rerank. Results carry the input
// index so scores can be restored to passage order.
type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Score returns one relevance score per passage, in input order.
func (r *HTTPReranker) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, fmt.Errorf("reranker is closed")
	}
	r.mu.RUnlock()

	if len(passages) == 0 {
		return nil, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	body, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: passages,
		Model:     r.config.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, temoaerr.ModelError("rerank call failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, temoaerr.ModelError(
			fmt.Sprintf("rerank failed with status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, temoaerr.ModelError("failed to decode rerank response", err)
	}

	scores := make([]float64, len(passages))
	for _, res := range result.Results {
		if res.Index < 0 || res.Index >= len(passages) {
			return nil, temoaerr.ModelError(
				fmt.Sprintf("rerank returned invalid index %d for %d passages", res.Index, len(passages)), nil)
		}
		scores[res.Index] = res.Score
	}
	return scores, nil
}

// Available checks if the reranker service is reachable.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases HTTP resources.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
