package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is the default number of rendered outputs to keep.
const DefaultCacheSize = 256

// Cached wraps a Renderer with an LRU cache keyed by content and format.
// Concurrent requests for the same key share one underlying render.
type Cached struct {
	inner Renderer
	cache *lru.Cache[string, string]
	group singleflight.Group
}

// NewCached creates a caching renderer. size <= 0 selects DefaultCacheSize.
func NewCached(inner Renderer, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, string](size)
	return &Cached{inner: inner, cache: cache}
}

func cacheKey(content, format string) string {
	sum := sha256.Sum256([]byte(format + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

// Render implements Renderer. Errors are not cached.
func (c *Cached) Render(ctx context.Context, content, format string) (string, error) {
	key := cacheKey(content, format)
	if out, ok := c.cache.Get(key); ok {
		return out, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if out, ok := c.cache.Get(key); ok {
			return out, nil
		}
		out, err := c.inner.Render(ctx, content, format)
		if err != nil {
			return "", err
		}
		c.cache.Add(key, out)
		return out, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Len returns the number of cached outputs.
func (c *Cached) Len() int {
	return c.cache.Len()
}
