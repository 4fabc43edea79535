package artistinfo

import (
	"sort"
	"sync"
	"time"

	"github.com/melodyhq/melody/internal/domain"
)

const (
	cacheTTL        = 24 * time.Hour
	cacheCapacity   = 100
	cacheEvictBatch = 20
)

type cacheEntry struct {
	info  domain.ArtistInfo
	added time.Time
}

// Cache holds artist-info payloads keyed by normalized artist name.
// Entries expire after 24 hours; beyond capacity the oldest batch is evicted.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache creates an empty artist-info cache
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns a cached payload if present and not expired
func (c *Cache) Get(key string) (domain.ArtistInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return domain.ArtistInfo{}, false
	}
	if c.now().Sub(entry.added) >= cacheTTL {
		delete(c.entries, key)
		return domain.ArtistInfo{}, false
	}
	return entry.info, true
}

// Set stores a payload, evicting the oldest entries once over capacity
func (c *Cache) Set(key string, info domain.ArtistInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{info: info, added: c.now()}

	if len(c.entries) <= cacheCapacity {
		return
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].added.Before(c.entries[keys[j]].added)
	})
	for _, k := range keys[:cacheEvictBatch] {
		delete(c.entries, k)
	}
}

// Len reports the number of stored entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
