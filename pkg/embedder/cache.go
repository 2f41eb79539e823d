package embedder

import (
	"github.com/dgraph-io/ristretto"
)

const defaultCacheSize = 64 << 20 // 64 MiB

// Cache memoizes embeddings keyed by content hash, so re-embedding hot
// content skips the provider entirely.
type Cache struct {
	inner *ristretto.Cache
}

// NewCache creates an embedding cache bounded to maxBytes.
func NewCache(maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		maxBytes = defaultCacheSize
	}
	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// Get returns the cached embedding for a content hash.
func (c *Cache) Get(contentHash string) ([]float64, bool) {
	value, found := c.inner.Get(contentHash)
	if !found {
		return nil, false
	}
	embedding, ok := value.([]float64)
	return embedding, ok
}

// Set stores an embedding under a content hash, costed by its byte size.
func (c *Cache) Set(contentHash string, embedding []float64) {
	c.inner.Set(contentHash, embedding, int64(len(embedding)*8))
}

// Wait blocks until buffered writes have been applied. Mostly useful in
// tests, since admission is asynchronous.
func (c *Cache) Wait() {
	c.inner.Wait()
}

// Close releases cache resources.
func (c *Cache) Close() {
	c.inner.Close()
}
