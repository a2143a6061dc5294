package page

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of pages CachedStore keeps by default.
const DefaultCacheSize = 1024

// CachedStore wraps a Store with an LRU cache for Get.
// Writes invalidate the cached entry after the inner write commits.
type CachedStore struct {
	inner Store
	cache *lru.Cache[string, *Page]

	// writing counts writes in flight and gen is bumped as each one ends.
	// A Get that overlapped a write does not keep its cache entry.
	writing atomic.Int64
	gen     atomic.Uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Verify interface implementation at compile time
var _ Store = (*CachedStore)(nil)

// NewCachedStore wraps inner. size <= 0 selects DefaultCacheSize.
func NewCachedStore(inner Store, size int) *CachedStore {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, *Page](size)
	return &CachedStore{inner: inner, cache: cache}
}

// Get implements Store.
func (c *CachedStore) Get(ctx context.Context, id string) (*Page, error) {
	if p, ok := c.cache.Get(id); ok {
		c.hits.Add(1)
		return p.Clone(), nil
	}
	c.misses.Add(1)

	gen := c.gen.Load()
	p, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.quiet(gen) {
		c.cache.Add(id, p.Clone())
		// A write may have finished between the check and the Add.
		if !c.quiet(gen) {
			c.cache.Remove(id)
		}
	}
	return p, nil
}

// quiet reports whether no write has run since gen was read.
func (c *CachedStore) quiet(gen uint64) bool {
	return c.writing.Load() == 0 && c.gen.Load() == gen
}

func (c *CachedStore) write(id string, fn func() (ChangeEvent, error)) (ChangeEvent, error) {
	c.writing.Add(1)
	ev, err := fn()
	c.cache.Remove(id)
	c.gen.Add(1)
	c.writing.Add(-1)
	return ev, err
}

// Put implements Store.
func (c *CachedStore) Put(ctx context.Context, id, content string, metadata map[string]string) (ChangeEvent, error) {
	return c.write(id, func() (ChangeEvent, error) { return c.inner.Put(ctx, id, content, metadata) })
}

// Delete implements Store.
func (c *CachedStore) Delete(ctx context.Context, id string) (ChangeEvent, error) {
	return c.write(id, func() (ChangeEvent, error) { return c.inner.Delete(ctx, id) })
}

// List implements Store.
func (c *CachedStore) List(ctx context.Context) ([]Summary, error) {
	return c.inner.List(ctx)
}

// Scan implements Store. Scans bypass the cache.
func (c *CachedStore) Scan(ctx context.Context, fn func(*Page) error) error {
	return c.inner.Scan(ctx, fn)
}

// Close purges the cache and closes the inner store.
func (c *CachedStore) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

// CacheStats reports cache hits, misses and current entry count.
func (c *CachedStore) CacheStats() (hits, misses uint64, entries int) {
	return c.hits.Load(), c.misses.Load(), c.cache.Len()
}
