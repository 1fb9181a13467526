package schema

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache holds compiled schemas keyed by name. Schemas are immutable, so
// entries are shared rather than copied. Eviction is cost based: each schema
// costs 1 and the cache holds at most capacity of them.
type Cache struct {
	store *ristretto.Cache[string, *Schema]
}

// NewCache creates a cache for capacity schemas.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, *Schema]{
		NumCounters:        int64(capacity) * 10,
		MaxCost:            int64(capacity),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		// Only an invalid config fails, and the config above is fixed.
		panic(fmt.Sprintf("schema: cache config: %v", err))
	}
	return &Cache{store: store}
}

// Get returns the cached schema for name, or nil.
func (c *Cache) Get(name string) *Schema {
	s, _ := c.store.Get(name)
	return s
}

// Put caches s under its name. It returns once the entry is visible to Get,
// or false if the admission policy rejected it.
func (c *Cache) Put(s *Schema) bool {
	ok := c.store.Set(s.Name, s, 1)
	c.store.Wait()
	return ok
}

// Invalidate removes name from the cache.
func (c *Cache) Invalidate(name string) {
	c.store.Del(name)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.store.Clear()
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.store.Close()
}
