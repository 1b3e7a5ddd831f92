package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/guileen/heimdall/logger"
)

// DefaultCacheSize is the LRU entry bound when none is configured.
const DefaultCacheSize = 1000

// CacheStats is a point-in-time view of the response cache counters.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Client fronts the registered providers with a fingerprint-keyed LRU cache
// and single-flight coalescing: concurrent requests for the same
// fingerprint trigger exactly one upstream generation.
//
// Providers are registered during initialization; the hot path only reads
// the registry.
type Client struct {
	mu        sync.RWMutex
	providers map[string]Provider
	current   string

	cache  *lru.Cache[string, *Response]
	flight singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewClient returns a client with a cache of the given size (DefaultCacheSize
// when size <= 0) and no providers.
func NewClient(size int) *Client {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, *Response](size)
	return &Client{
		providers: map[string]Provider{},
		cache:     cache,
	}
}

// RegisterProvider adds a provider. The first registration becomes the
// current provider. Initialization-time only.
func (c *Client) RegisterProvider(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[p.Name()] = p
	if c.current == "" {
		c.current = p.Name()
	}
}

// SetProvider selects the provider used by Generate.
func (c *Client) SetProvider(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.providers[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNoProvider, name)
	}
	c.current = name
	return nil
}

// Provider returns the currently selected provider.
func (c *Client) Provider() (Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == "" {
		return nil, ErrNoProvider
	}
	return c.providers[c.current], nil
}

// Fingerprint returns the stable cache key for one generation request.
func Fingerprint(provider, model, prompt string, config GenerationConfig) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%.3f|%d|%d",
		provider, model, prompt, config.Temperature, config.MaxTokens, config.NumCandidates)
	return hex.EncodeToString(h.Sum(nil))
}

// Generate produces rewrite candidates for the prompt through the current
// provider, serving repeats from the cache. Responses are cached only on
// success; failures are returned to the caller and retried by the next
// request.
func (c *Client) Generate(ctx context.Context, promptText string, config GenerationConfig) (*Response, error) {
	provider, err := c.Provider()
	if err != nil {
		return nil, err
	}
	config = config.normalized()
	fp := Fingerprint(provider.Name(), config.ModelName, promptText, config)
	if cached, ok := c.cache.Get(fp); ok {
		c.hits.Add(1)
		return cachedCopy(cached), nil
	}

	// Probe only when a real generation is imminent; cached responses must
	// not depend on provider health.
	if !provider.Available(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, provider.Name())
	}

	// singleflight reports shared to the leader as well as the followers;
	// leader marks the caller whose closure actually ran.
	var leader bool
	v, err, shared := c.flight.Do(fp, func() (any, error) {
		leader = true
		c.misses.Add(1)
		resp, err := provider.Generate(ctx, promptText, config)
		if err != nil {
			logger.Warn("llm generation failed", logger.Provider(provider.Name()), logger.ErrorField(err))
			return nil, err
		}
		c.cache.Add(fp, resp)
		logger.Debug("llm generation complete",
			logger.Provider(provider.Name()),
			logger.Int("candidates", len(resp.Candidates)),
			logger.Duration("latency", resp.Latency))
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	resp := v.(*Response)
	if shared && !leader {
		// Coalesced callers count as cache hits: the flight leader already
		// recorded the miss for this fingerprint.
		c.hits.Add(1)
		return cachedCopy(resp), nil
	}
	return resp, nil
}

// cachedCopy returns a shallow copy flagged as a cache hit, leaving the
// stored response untouched.
func cachedCopy(r *Response) *Response {
	out := *r
	out.CacheHit = true
	return &out
}

// Stats returns the running cache counters. The hit rate is zero when no
// requests have been served.
func (c *Client) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{Hits: hits, Misses: misses, HitRate: rate}
}

// ResetStats zeroes the cache counters.
func (c *Client) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
}
