package retrieval

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Embedder turns text into a fixed-dimension vector. Athena never
// embeds itself; this is always an external collaborator.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// embedderIdentifier is implemented by embedders that have a stable
// identity beyond their Go type, used as part of the cache key so two
// embedders of different model versions never collide.
type embedderIdentifier interface {
	ID() string
}

type cachedEmbedding struct {
	vector []float32
	dim    int
}

// EmbeddingCache memoizes Embed calls keyed by (text, embedder id, dim),
// with LRU eviction and singleflight write coalescing so concurrent
// cache misses for the same key only call the embedder once.
type EmbeddingCache struct {
	cache  *lru.Cache[string, cachedEmbedding]
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewEmbeddingCache creates a cache holding up to capacity entries.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	if capacity <= 0 {
		capacity = 4096
	}
	c, err := lru.New[string, cachedEmbedding](capacity)
	if err != nil {
		// Only returns an error for capacity <= 0, already guarded above.
		panic(fmt.Sprintf("retrieval: building embedding cache: %v", err))
	}
	return &EmbeddingCache{cache: c}
}

func embedderID(e Embedder) string {
	if id, ok := e.(embedderIdentifier); ok {
		return id.ID()
	}
	return fmt.Sprintf("%T", e)
}

func cacheKey(e Embedder, text string) string {
	return fmt.Sprintf("%s:%d:%s", embedderID(e), e.Dimension(), text)
}

// Embed returns the cached vector for text if present and still valid
// for embedder's current dimension, otherwise computes and caches it. A
// cached embedding is never returned once the embedder's dimension has
// changed, since the key already encodes the dimension.
func (c *EmbeddingCache) Embed(ctx context.Context, e Embedder, text string) ([]float32, error) {
	key := cacheKey(e, text)
	if cached, ok := c.cache.Get(key); ok && cached.dim == e.Dimension() {
		c.hits.Add(1)
		return cached.vector, nil
	}
	c.misses.Add(1)

	result, err, _ := c.group.Do(key, func() (any, error) {
		return e.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	vector := result.([]float32)
	c.cache.Add(key, cachedEmbedding{vector: vector, dim: e.Dimension()})
	return vector, nil
}

// HitRate reports the cache's lifetime hit ratio for observability
// export.
func (c *EmbeddingCache) HitRate() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Len reports the current number of cached entries.
func (c *EmbeddingCache) Len() int {
	return c.cache.Len()
}
