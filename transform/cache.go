package transform

import (
	"sync"

	"github.com/mqsol/MeridianShift/crs"
)

type cacheKey struct {
	source, target string
}

// Cache memoizes transforms per (source, target) canonical pair. A cache
// belongs to one pipeline run and is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	transforms map[cacheKey]*Transform
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{transforms: make(map[cacheKey]*Transform)}
}

// Get returns the cached transform for the pair, building it on first use.
func (c *Cache) Get(source, target *crs.Descriptor) (*Transform, error) {
	if source == nil || target == nil {
		return Build(source, target)
	}
	key := cacheKey{source.Canonical(), target.Canonical()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.transforms[key]; ok {
		return t, nil
	}
	t, err := Build(source, target)
	if err != nil {
		return nil, err
	}
	c.transforms[key] = t
	return t, nil
}

// Len returns the number of cached transforms.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transforms)
}
