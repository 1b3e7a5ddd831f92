// Package llm abstracts the language-model backends that generate SQL
// rewrite candidates, and provides the caching client in front of them.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Provider errors.
var (
	// ErrNoProvider is returned when the client has no usable provider.
	ErrNoProvider = errors.New("no llm provider registered")
	// ErrProviderUnavailable is returned when the selected provider fails
	// its availability probe.
	ErrProviderUnavailable = errors.New("llm provider unavailable")
)

// GenerationConfig carries the recognized generation options.
type GenerationConfig struct {
	ModelName     string  `json:"model_name"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	NumCandidates int     `json:"num_candidates"`
	UseFewShot    bool    `json:"use_few_shot"`
}

// DefaultGenerationConfig returns the stock generation settings.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		ModelName:     "gpt-4",
		Temperature:   0.3,
		MaxTokens:     2000,
		NumCandidates: 3,
		UseFewShot:    true,
	}
}

// normalized clamps the config into its documented ranges.
func (c GenerationConfig) normalized() GenerationConfig {
	out := c
	if out.ModelName == "" {
		out.ModelName = "gpt-4"
	}
	if out.Temperature < 0 {
		out.Temperature = 0
	} else if out.Temperature > 2 {
		out.Temperature = 2
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 2000
	}
	if out.NumCandidates <= 0 {
		out.NumCandidates = 1
	}
	return out
}

// Response is the outcome of one generation call.
type Response struct {
	Candidates   []string      `json:"candidates"`
	RawResponse  string        `json:"raw_response"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Latency      time.Duration `json:"latency"`
	CacheHit     bool          `json:"cache_hit"`
}

// Provider is one language-model backend. Implementations translate
// Generate into their native wire protocol; Available is a cheap health
// probe used before dispatching.
type Provider interface {
	Generate(ctx context.Context, prompt string, config GenerationConfig) (*Response, error)
	Name() string
	Available(ctx context.Context) bool
}

// ExtractSQL pulls the SQL statement out of a model completion: the first
// ```sql fenced block, else the first ``` fenced block, else the trimmed
// completion itself.
func ExtractSQL(text string) string {
	if idx := strings.Index(text, "```sql"); idx >= 0 {
		rest := text[idx+len("```sql"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	return strings.TrimSpace(text)
}
