package relay

import (
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a positive existence check is trusted.
const DefaultCacheTTL = 60 * time.Second

// CacheStats holds cache counters.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Invalidated int64
	CurrentSize int
}

type entry struct {
	value      bool
	expiration time.Time
}

// existenceCache maps relay stream keys to a boolean with a TTL checked on
// read. Only the writer of a key invalidates it.
type existenceCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
	stats   CacheStats
}

func newExistenceCache(ttl time.Duration, now func() time.Time) *existenceCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &existenceCache{ttl: ttl, now: now, entries: make(map[string]entry)}
}

// get returns the cached value. Expired entries are dropped and reported
// as a miss.
func (c *existenceCache) get(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return false, false
	}
	if c.now().After(e.expiration) {
		delete(c.entries, key)
		c.stats.Misses++
		return false, false
	}
	c.stats.Hits++
	return e.value, true
}

func (c *existenceCache) set(key string, value bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiration: c.now().Add(c.ttl)}
	c.stats.Sets++
}

func (c *existenceCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.stats.Invalidated++
	}
}

func (c *existenceCache) snapshot() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.CurrentSize = len(c.entries)
	return s
}

func cacheKey(base, name string) string {
	return base + "|" + name
}
