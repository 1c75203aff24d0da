package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes vectors by exact text. Repeated queries (and the common
// case of a user turn that is queried and then stored) skip the backend.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached keeps up to maxEntries vectors.
func NewCached(inner Embedder, maxEntries int64) (*Cached, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Dimensions() int {
	return c.inner.Dimensions()
}

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		misses []string
		pos    []int
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v.([]float32)
			continue
		}
		misses = append(misses, t)
		pos = append(pos, i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(misses) {
		return nil, fmt.Errorf("got %d vectors for %d texts", len(vecs), len(misses))
	}
	for j, v := range vecs {
		out[pos[j]] = v
		c.cache.Set(misses[j], v, 1)
	}
	c.cache.Wait()
	return out, nil
}

func (c *Cached) Close() {
	c.cache.Close()
}
