// Package embedcache memoizes embedding vectors by content hash so
// re-running the embed stage over unchanged chunks costs nothing.
package embedcache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/caselight/backend/internal/util"
)

// Cache holds embeddings keyed by the hash of the embedded text.
type Cache struct {
	inner *gocache.Cache
}

// New creates a Cache whose entries expire after ttl. A zero ttl keeps
// entries for the life of the process.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Cache{inner: gocache.New(ttl, 10*time.Minute)}
}

// Get returns the cached embedding for text, if present.
func (c *Cache) Get(text string) ([]float32, bool) {
	v, ok := c.inner.Get(util.ContentHash(text))
	if !ok {
		return nil, false
	}
	embedding, ok := v.([]float32)
	return embedding, ok
}

// Put stores the embedding for text.
func (c *Cache) Put(text string, embedding []float32) {
	c.inner.SetDefault(util.ContentHash(text), embedding)
}
