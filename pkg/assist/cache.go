package assist

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
)

// ExplanationCache memoises explanations per (kind, config). Entries are
// never invalidated; row counts are not part of the key. Concurrent misses
// for the same key share one upstream call, and failures are not cached.
type ExplanationCache struct {
	next Explainer

	mu      sync.RWMutex
	entries map[string]string
	group   singleflight.Group
}

// NewExplanationCache wraps next.
func NewExplanationCache(next Explainer) *ExplanationCache {
	return &ExplanationCache{next: next, entries: make(map[string]string)}
}

var _ Explainer = (*ExplanationCache)(nil)

// CacheKey hashes the kind and the canonical JSON form of cfg.
func CacheKey(kind pipeline.Kind, cfg pipeline.Config) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	h := blake3.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Explain returns the cached explanation or asks the wrapped Explainer.
func (c *ExplanationCache) Explain(ctx context.Context, req ExplainRequest) (string, error) {
	if req.Config == nil {
		req.Config = pipeline.ZeroConfig(req.Kind)
	}
	key, err := CacheKey(req.Kind, req.Config)
	if err != nil {
		return "", err
	}
	if text, ok := c.Lookup(key); ok {
		return text, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		if text, ok := c.Lookup(key); ok {
			return text, nil
		}
		// Shared by every waiter, so one caller giving up must not cancel it.
		text, err := c.next.Explain(context.WithoutCancel(ctx), req)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[key] = text
		c.mu.Unlock()
		return text, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Lookup returns a cached explanation by key.
func (c *ExplanationCache) Lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	text, ok := c.entries[key]
	return text, ok
}

// Len returns the number of cached explanations.
func (c *ExplanationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
