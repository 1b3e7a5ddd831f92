package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider counts generations and optionally blocks until released, so
// tests can hold several callers in flight.
type fakeProvider struct {
	name      string
	available bool
	calls     atomic.Int64
	block     chan struct{}
	response  *Response
	err       error
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:      name,
		available: true,
		response: &Response{
			Candidates: []string{"SELECT 1"},
			Success:    true,
		},
	}
}

func (f *fakeProvider) Name() string                   { return f.name }
func (f *fakeProvider) Available(context.Context) bool { return f.available }

func (f *fakeProvider) Generate(ctx context.Context, prompt string, config GenerationConfig) (*Response, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.response
	return &resp, nil
}

func TestClientCacheHit(t *testing.T) {
	provider := newFakeProvider("fake")
	client := NewClient(10)
	client.RegisterProvider(provider)

	config := DefaultGenerationConfig()
	first, err := client.Generate(context.Background(), "prompt", config)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := client.Generate(context.Background(), "prompt", config)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Candidates, second.Candidates, "cached response must be identical")

	assert.Equal(t, int64(1), provider.calls.Load(), "second call must be served from cache")

	stats := client.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestClientDistinctFingerprints(t *testing.T) {
	provider := newFakeProvider("fake")
	client := NewClient(10)
	client.RegisterProvider(provider)

	config := DefaultGenerationConfig()
	_, err := client.Generate(context.Background(), "prompt one", config)
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "prompt two", config)
	require.NoError(t, err)

	assert.Equal(t, int64(2), provider.calls.Load())
}

func TestClientSingleFlight(t *testing.T) {
	provider := newFakeProvider("fake")
	provider.block = make(chan struct{})
	client := NewClient(10)
	client.RegisterProvider(provider)

	config := DefaultGenerationConfig()
	const callers = 2

	var wg sync.WaitGroup
	results := make([]*Response, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Generate(context.Background(), "same prompt", config)
			require.NoError(t, err)
			results[i] = resp
		}(i)
	}

	// Let both callers reach the flight, then release the provider.
	time.Sleep(50 * time.Millisecond)
	close(provider.block)
	wg.Wait()

	assert.Equal(t, int64(1), provider.calls.Load(), "concurrent identical requests must coalesce")
	assert.Equal(t, results[0].Candidates, results[1].Candidates)

	stats := client.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Hits, "the coalesced caller counts as a hit")
}

func TestClientErrorsNotCached(t *testing.T) {
	provider := newFakeProvider("fake")
	provider.err = assert.AnError
	client := NewClient(10)
	client.RegisterProvider(provider)

	_, err := client.Generate(context.Background(), "prompt", DefaultGenerationConfig())
	require.Error(t, err)

	provider.err = nil
	resp, err := client.Generate(context.Background(), "prompt", DefaultGenerationConfig())
	require.NoError(t, err)
	assert.False(t, resp.CacheHit, "failed responses must not be cached")
	assert.Equal(t, int64(2), provider.calls.Load())
}

func TestClientUnavailableProvider(t *testing.T) {
	provider := newFakeProvider("fake")
	provider.available = false
	client := NewClient(10)
	client.RegisterProvider(provider)

	_, err := client.Generate(context.Background(), "prompt", DefaultGenerationConfig())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int64(0), provider.calls.Load())
}

func TestClientProviderSelection(t *testing.T) {
	client := NewClient(10)
	assert.ErrorIs(t, client.SetProvider("missing"), ErrNoProvider)

	_, err := client.Provider()
	assert.ErrorIs(t, err, ErrNoProvider)

	a := newFakeProvider("a")
	b := newFakeProvider("b")
	client.RegisterProvider(a)
	client.RegisterProvider(b)

	current, err := client.Provider()
	require.NoError(t, err)
	assert.Equal(t, "a", current.Name(), "first registration becomes current")

	require.NoError(t, client.SetProvider("b"))
	current, err = client.Provider()
	require.NoError(t, err)
	assert.Equal(t, "b", current.Name())
}

func TestFingerprintStability(t *testing.T) {
	config := GenerationConfig{ModelName: "m", Temperature: 0.3004, MaxTokens: 100, NumCandidates: 2}
	rounded := GenerationConfig{ModelName: "m", Temperature: 0.3001, MaxTokens: 100, NumCandidates: 2}
	other := GenerationConfig{ModelName: "m", Temperature: 0.4, MaxTokens: 100, NumCandidates: 2}

	fp := Fingerprint("p", "m", "prompt", config)
	assert.Equal(t, fp, Fingerprint("p", "m", "prompt", rounded), "temperature rounds to 3 decimals")
	assert.NotEqual(t, fp, Fingerprint("p", "m", "prompt", other))
	assert.NotEqual(t, fp, Fingerprint("q", "m", "prompt", config), "provider is part of the key")
}

func TestGenerationConfigNormalization(t *testing.T) {
	config := GenerationConfig{Temperature: 5, MaxTokens: -1, NumCandidates: 0}
	normalized := config.normalized()
	assert.Equal(t, 2.0, normalized.Temperature)
	assert.Equal(t, 2000, normalized.MaxTokens)
	assert.Equal(t, 1, normalized.NumCandidates)

	below := GenerationConfig{Temperature: -0.5}
	assert.Equal(t, 0.0, below.normalized().Temperature)
}

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "sql fence",
			in:   "Here you go:\n```sql\nSELECT 1\n```\nDone.",
			want: "SELECT 1",
		},
		{
			name: "plain fence",
			in:   "```\nSELECT 2\n```",
			want: "SELECT 2",
		},
		{
			name: "no fence",
			in:   "  SELECT 3  ",
			want: "SELECT 3",
		},
		{
			name: "unterminated fence",
			in:   "```sql\nSELECT 4",
			want: "```sql\nSELECT 4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSQL(tt.in))
		})
	}
}
