package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/brunobiangulo/orgatlas/metrics"
)

// Cache stores model responses keyed by prompt hash.
type Cache interface {
	Get(ctx context.Context, key string) (*Response, bool, error)
	Set(ctx context.Context, key string, resp *Response) error
}

// cachedProvider answers repeated prompts from a Cache. Cache failures are
// logged and fall through to the wrapped provider.
type cachedProvider struct {
	next  Provider
	cache Cache
	model string
}

// WithCache wraps p so identical prompts to the same model hit the cache.
// A nil cache returns p unchanged.
func WithCache(p Provider, c Cache, model string) Provider {
	if c == nil {
		return p
	}
	return &cachedProvider{next: p, cache: c, model: model}
}

// CacheKey derives the cache key for a model and prompt.
func CacheKey(model, prompt string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *cachedProvider) Extract(ctx context.Context, prompt string) (*Response, error) {
	key := CacheKey(c.model, prompt)

	resp, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		slog.Warn("llm: cache lookup failed", "error", err)
	case ok:
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return resp, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	resp, err = c.next.Extract(ctx, prompt)
	if err != nil || resp == nil {
		return resp, err
	}
	if err := c.cache.Set(ctx, key, resp); err != nil {
		slog.Warn("llm: cache store failed", "error", err)
	}
	return resp, nil
}
