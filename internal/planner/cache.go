package planner

import (
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheKey derives the result cache key from spec.md §4.4's triple:
// (table, time-travel timestamp, canonicalized query text).
func CacheKey(table string, asOf *time.Time, canonicalQueryText string) string {
	ts := "latest"
	if asOf != nil {
		ts = asOf.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s|%s|%s", table, ts, normalize(canonicalQueryText))
}

type cacheEntry struct {
	result      any
	insertedAt  time.Time
	accessCount int
}

// ResultCache is the planner's LRU result cache: bounded by entry
// count, with age-based expiry. Lookups use Peek rather than Get
// against the underlying LRU so a read never refreshes recency --
// eviction on overflow then always removes the oldest-inserted entry,
// matching spec.md §4.4's "eviction picks the entry with the oldest
// insertion timestamp" rather than ordinary recency-based LRU eviction.
//
// Cache reads never fail; cache writes are best-effort (spec.md
// §4.4's failure semantics) -- callers never need to check an error
// from Get or Put.
type ResultCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *cacheEntry]
	maxAge  time.Duration
}

// NewResultCache returns a cache bounded to maxEntries, with entries
// expiring after maxAge.
func NewResultCache(maxEntries int, maxAge time.Duration) *ResultCache {
	c, _ := lru.New[string, *cacheEntry](maxEntries)
	return &ResultCache{entries: c, maxAge: maxAge}
}

// Get returns the cached result for key if present and not yet
// expired, per now.
func (c *ResultCache) Get(key string, now time.Time) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key)
	if !ok {
		return nil, false
	}
	if now.Sub(e.insertedAt) > c.maxAge {
		c.entries.Remove(key)
		return nil, false
	}
	e.accessCount++
	return e.result, true
}

// Put inserts or replaces the cached result for key.
func (c *ResultCache) Put(key string, result any, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, &cacheEntry{result: result, insertedAt: now})
}

// Len reports the current entry count.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// InvalidateTable drops every cached entry for table, regardless of
// the as-of timestamp or query text baked into its key. A commit (or a
// rollback) changes what "latest" means for a table, and a cached
// result keyed off the old latest must not survive it.
func (c *ResultCache) InvalidateTable(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := table + "|"
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.entries.Remove(k)
		}
	}
}
