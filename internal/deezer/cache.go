// SPDX-License-Identifier: MIT

package deezer

import (
	"strings"
	"sync"
	"time"

	"github.com/stemsync/stemsync/internal/metrics"
)

// searchCache memoizes search results per normalized query. Expired entries
// are evicted lazily on lookup; the working set is tiny (human search
// traffic), so there is no background sweeper.
type searchCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	results []SearchResult
	expires time.Time
}

func newSearchCache(ttl time.Duration) *searchCache {
	return &searchCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func cacheKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func (c *searchCache) get(query string) ([]SearchResult, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(query)]
	if !ok {
		metrics.SearchCacheMisses.Inc()
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, cacheKey(query))
		metrics.SearchCacheMisses.Inc()
		return nil, false
	}
	metrics.SearchCacheHits.Inc()
	out := make([]SearchResult, len(e.results))
	copy(out, e.results)
	return out, true
}

func (c *searchCache) put(query string, results []SearchResult) {
	if c.ttl <= 0 {
		return
	}
	cp := make([]SearchResult, len(results))
	copy(cp, results)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(query)] = cacheEntry{results: cp, expires: c.now().Add(c.ttl)}
}
