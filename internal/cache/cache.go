// Package cache implements the shared embedding cache keyed by
// (normalized text, model). Values for a given key are expected to be stable,
// so same-key races are resolved last-write-wins.
package cache

import (
	"context"
	"strings"
	"sync"
)

// Cache is the embedding cache contract. Get returns (vector, found, err);
// backend failures are wrapped in models.ErrCacheUnavailable and callers are
// expected to degrade to an always-miss cache rather than fail.
type Cache interface {
	Get(ctx context.Context, text, model string) ([]float64, bool, error)
	Put(ctx context.Context, text, model string, vector []float64) error
	Close() error
}

// NormalizeKey canonicalizes cache-key text. Every call site storing or
// looking up an embedding must pass text through here so hits line up.
func NormalizeKey(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// MemoryCache is a mutex-guarded in-process cache. Used in tests and as the
// fallback when no persistent backend is configured.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string][]float64
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string][]float64)}
}

func memKey(text, model string) string {
	return model + "\x00" + NormalizeKey(text)
}

func (c *MemoryCache) Get(_ context.Context, text, model string) ([]float64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[memKey(text, model)]
	if !ok {
		return nil, false, nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out, true, nil
}

func (c *MemoryCache) Put(_ context.Context, text, model string, vector []float64) error {
	stored := make([]float64, len(vector))
	copy(stored, vector)
	c.mu.Lock()
	c.m[memKey(text, model)] = stored
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Close() error { return nil }

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

var _ Cache = (*MemoryCache)(nil)
