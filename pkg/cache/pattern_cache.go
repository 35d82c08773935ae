// Package cache provides an LRU cache of compiled traversal patterns.
//
// Compiling bytecode is deterministic, so the patterns produced for a given
// step sequence can be reused. Entries are keyed by a BLAKE2b digest of the
// bytecode's canonical rendering and handed out as deep copies, so callers
// may mutate what they receive.
//
// Example:
//
//	c := cache.NewPatternCache(1000, 5*time.Minute)
//	key := cache.Key(bytecode)
//	if patterns, ok := c.Get(key); ok {
//		return patterns, nil
//	}
//	patterns, err := engine.Compile(ctx, bytecode)
//	if err == nil {
//		c.Put(key, patterns)
//	}
package cache

import (
	"container/list"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/onegraph/pkg/gremlin"
	"github.com/orneryd/onegraph/pkg/model"
)

// DefaultMaxSize is used when a non-positive size is requested.
const DefaultMaxSize = 1000

// PatternKey identifies a bytecode sequence.
type PatternKey [blake2b.Size256]byte

func (k PatternKey) String() string { return hex.EncodeToString(k[:8]) }

// Key digests the canonical rendering of bc.
func Key(bc gremlin.Bytecode) PatternKey {
	return blake2b.Sum256([]byte(bc.Canonical()))
}

// PatternCache is a thread-safe LRU cache with optional TTL.
type PatternCache struct {
	mu sync.Mutex

	maxSize int
	ttl     time.Duration
	enabled bool

	list  *list.List
	items map[PatternKey]*list.Element

	hits   atomic.Uint64
	misses atomic.Uint64
}

type cacheEntry struct {
	key       PatternKey
	patterns  []*model.Pattern
	expiresAt time.Time
}

// NewPatternCache creates a cache holding up to maxSize entries. A zero ttl
// disables expiry.
func NewPatternCache(maxSize int, ttl time.Duration) *PatternCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &PatternCache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		list:    list.New(),
		items:   make(map[PatternKey]*list.Element, maxSize),
	}
}

// Get returns a deep copy of the cached patterns for key.
func (c *PatternCache) Get(key PatternKey) ([]*model.Pattern, bool) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.list.MoveToFront(elem)
	stored := entry.patterns
	c.mu.Unlock()

	c.hits.Add(1)
	return clonePatterns(stored), true
}

// Put stores a deep copy of patterns under key, evicting the least recently
// used entries when full.
func (c *PatternCache) Put(key PatternKey, patterns []*model.Pattern) {
	stored := clonePatterns(patterns)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.patterns = stored
		if c.ttl > 0 {
			entry.expiresAt = time.Now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{key: key, patterns: stored}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.items[key] = c.list.PushFront(entry)
}

// Remove drops key from the cache.
func (c *PatternCache) Remove(key PatternKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear drops every entry. Statistics are kept.
func (c *PatternCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.Init()
	c.items = make(map[PatternKey]*list.Element, c.maxSize)
}

// Len returns the number of entries.
func (c *PatternCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats returns cache statistics.
func (c *PatternCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Size:    c.Len(),
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Stats holds cache statistics.
type Stats struct {
	Size    int     // Current number of entries
	MaxSize int     // Maximum capacity
	Hits    uint64  // Number of cache hits
	Misses  uint64  // Number of cache misses
	HitRate float64 // Hit rate percentage (0-100)
}

// SetEnabled toggles caching. Disabling also clears the cache.
func (c *PatternCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled

	if !enabled {
		c.list.Init()
		c.items = make(map[PatternKey]*list.Element, c.maxSize)
	}
}

func (c *PatternCache) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *PatternCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}

func clonePatterns(in []*model.Pattern) []*model.Pattern {
	out := make([]*model.Pattern, len(in))
	for i, p := range in {
		out[i] = model.ClonePattern(p)
	}
	return out
}
