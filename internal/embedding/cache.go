package embedding

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// EmbeddingCache is an LRU cache for embeddings keyed by the xxhash of the text.
type EmbeddingCache struct {
	capacity int
	cache    map[uint64]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   uint64
	value []float32
}

// NewEmbeddingCache creates a new cache with the given capacity.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &EmbeddingCache{
		capacity: capacity,
		cache:    make(map[uint64]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for text if present.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	key := xxhash.Sum64String(text)
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores the embedding for text, evicting the oldest entry if at capacity.
func (c *EmbeddingCache) Set(text string, value []float32) {
	key := xxhash.Sum64String(text)
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.cache, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Cached wraps an Embedder with an EmbeddingCache. Batches send only the
// misses to the wrapped embedder.
type Cached struct {
	inner Embedder
	cache *EmbeddingCache
}

// NewCached wraps e with an LRU of the given capacity.
func NewCached(e Embedder, capacity int) *Cached {
	return &Cached{inner: e, cache: NewEmbeddingCache(capacity)}
}

// Unwrap returns the wrapped embedder.
func (c *Cached) Unwrap() Embedder { return c.inner }

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v)
	return v, nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.cache.Set(missTexts[j], vecs[j])
	}
	return out, nil
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

func (c *Cached) Close() error { return c.inner.Close() }
