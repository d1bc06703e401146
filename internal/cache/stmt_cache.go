// Package cache provides an LRU cache for prepared statements, keyed
// by statement text.
package cache

import (
	"container/list"
	"database/sql"
	"sync"
	"sync/atomic"
)

// DefaultStmtCacheCapacity bounds the cache when no capacity is
// configured.
const DefaultStmtCacheCapacity = 1000

// StmtCache holds prepared statements with LRU eviction. Evicted and
// replaced statements are closed; the cache owns every statement it
// holds.
type StmtCache struct {
	mu       sync.RWMutex
	capacity int
	items    map[string]*list.Element
	lru      *list.List

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type cacheEntry struct {
	key  string
	stmt *sql.Stmt
}

// NewStmtCache creates a cache with the default capacity.
func NewStmtCache() *StmtCache {
	return NewStmtCacheWithCapacity(DefaultStmtCacheCapacity)
}

// NewStmtCacheWithCapacity creates a cache bounded to capacity entries.
// Non-positive capacities fall back to the default.
func NewStmtCacheWithCapacity(capacity int) *StmtCache {
	if capacity <= 0 {
		capacity = DefaultStmtCacheCapacity
	}
	return &StmtCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Get looks up a statement and marks it most recently used.
func (sc *StmtCache) Get(key string) (*sql.Stmt, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	elem, ok := sc.items[key]
	if !ok {
		sc.misses.Add(1)
		return nil, false
	}
	sc.lru.MoveToFront(elem)
	sc.hits.Add(1)
	return elem.Value.(*cacheEntry).stmt, true
}

// Set stores a statement, closing any statement it replaces and
// evicting the least recently used entry at capacity.
func (sc *StmtCache) Set(key string, stmt *sql.Stmt) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if elem, ok := sc.items[key]; ok {
		sc.lru.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		_ = entry.stmt.Close()
		entry.stmt = stmt
		return
	}

	if sc.lru.Len() >= sc.capacity {
		sc.evictOldest()
	}
	sc.items[key] = sc.lru.PushFront(&cacheEntry{key: key, stmt: stmt})
}

// evictOldest removes and closes the LRU entry. Lock must be held.
func (sc *StmtCache) evictOldest() {
	elem := sc.lru.Back()
	if elem == nil {
		return
	}
	sc.lru.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(sc.items, entry.key)
	_ = entry.stmt.Close()
	sc.evictions.Add(1)
}

// Clear closes and drops every cached statement.
func (sc *StmtCache) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for elem := sc.lru.Front(); elem != nil; elem = elem.Next() {
		_ = elem.Value.(*cacheEntry).stmt.Close()
	}
	sc.items = make(map[string]*list.Element, sc.capacity)
	sc.lru.Init()
}

// Stats holds cache counters.
type Stats struct {
	Size      int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64
}

// Stats returns a snapshot of the cache counters.
func (sc *StmtCache) Stats() Stats {
	sc.mu.RLock()
	size := sc.lru.Len()
	sc.mu.RUnlock()

	hits := sc.hits.Load()
	misses := sc.misses.Load()
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Size:      size,
		Capacity:  sc.capacity,
		Hits:      hits,
		Misses:    misses,
		Evictions: sc.evictions.Load(),
		HitRate:   rate,
	}
}
