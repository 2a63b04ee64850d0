// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package skills

import (
	"sync"
	"time"
)

// SearchCache memoizes registry search results for a short TTL so the
// agent retrying the same discovery query doesn't hammer the registries.
type SearchCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]searchCacheEntry
}

type searchCacheEntry struct {
	results []SkillSearchResult
	expires time.Time
}

func NewSearchCache(maxSize int, ttl time.Duration) *SearchCache {
	if maxSize <= 0 {
		maxSize = 64
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SearchCache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]searchCacheEntry),
	}
}

func (c *SearchCache) Get(key string) ([]SkillSearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.results, true
}

func (c *SearchCache) Set(key string, results []SkillSearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict expired entries first; if still full, drop an arbitrary one.
	if len(c.entries) >= c.maxSize {
		now := time.Now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
		for k := range c.entries {
			if len(c.entries) < c.maxSize {
				break
			}
			delete(c.entries, k)
		}
	}

	c.entries[key] = searchCacheEntry{
		results: results,
		expires: time.Now().Add(c.ttl),
	}
}
