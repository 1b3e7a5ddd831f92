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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider generates candidates through the OpenAI chat completions
// API.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAIProvider returns a provider for the given API key. An empty
// baseURL selects the public endpoint.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// SetHTTPClient replaces the transport, used by tests to stub the API.
func (p *OpenAIProvider) SetHTTPClient(c *http.Client) { p.client = c }

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Available implements Provider. The API offers no unauthenticated health
// endpoint, so presence of a key is the probe.
func (p *OpenAIProvider) Available(context.Context) bool { return p.apiKey != "" }

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	N           int             `json:"n"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, config GenerationConfig) (*Response, error) {
	config = config.normalized()
	body, err := json.Marshal(openAIRequest{
		Model:       config.ModelName,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		Temperature: config.Temperature,
		MaxTokens:   config.MaxTokens,
		N:           config.NumCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("openai: %s", msg)
	}

	out := &Response{
		RawResponse: string(raw),
		Success:     true,
		Latency:     time.Since(start),
	}
	for _, choice := range parsed.Choices {
		out.Candidates = append(out.Candidates, ExtractSQL(choice.Message.Content))
	}
	return out, nil
}
