package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LocalProvider generates candidates through a self-hosted model behind a
// plain HTTP generate endpoint.
type LocalProvider struct {
	endpoint string
	client   *http.Client
}

// NewLocalProvider returns a provider for the given endpoint URL, e.g.
// http://localhost:8000/generate.
func NewLocalProvider(endpoint string) *LocalProvider {
	return &LocalProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

// SetHTTPClient replaces the transport, used by tests to stub the server.
func (p *LocalProvider) SetHTTPClient(c *http.Client) { p.client = c }

// Name implements Provider.
func (p *LocalProvider) Name() string { return "local" }

// Available implements Provider: a reachability probe against the endpoint.
// Any HTTP response counts; only transport failures mark it down.
func (p *LocalProvider) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

type localRequest struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	N           int     `json:"n"`
}

type localResponse struct {
	Candidates []string `json:"candidates"`
}

// Generate implements Provider.
func (p *LocalProvider) Generate(ctx context.Context, prompt string, config GenerationConfig) (*Response, error) {
	config = config.normalized()
	body, err := json.Marshal(localRequest{
		Prompt:      prompt,
		Temperature: config.Temperature,
		MaxTokens:   config.MaxTokens,
		N:           config.NumCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local model request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local model: %s", resp.Status)
	}

	var parsed localResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &Response{
		RawResponse: string(raw),
		Success:     true,
		Latency:     time.Since(start),
	}
	for _, c := range parsed.Candidates {
		out.Candidates = append(out.Candidates, ExtractSQL(c))
	}
	return out, nil
}
