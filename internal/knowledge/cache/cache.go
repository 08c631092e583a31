// Package cache implements the bounded, replacement-policy cache: an LRU
// read accelerator with secondary views over caller-defined indices, grounded
// on the reference LRUCache (promotion on both direct get and by-X lookups,
// empty-key cleanup on removal) and backed by hashicorp/golang-lru/v2 for the
// core eviction mechanics. It is generic over the cached item type so that
// leaf packages never need to depend on the domain package that owns that
// type, matching the dependency direction the rest of the tree follows.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/knowledgerepo/knowledge-repository/internal/metrics"
)

// IDFunc extracts the cache key an item is stored and looked up under.
type IDFunc[T any] func(item T) string

// IndexFunc extracts the set of values an item should be reachable under for
// one named secondary index (e.g. an item with three tags is reachable under
// three values of a "tag" index).
type IndexFunc[T any] func(item T) []string

// Cache is the bounded, generic item cache contract from SPEC_FULL.md §4.6.
type Cache[T any] interface {
	Add(item T)
	Get(id string) (T, bool)
	Remove(id string) bool
	Clear()
	GetByIndex(index, value string) []T
	GetAll() []T
	Size() int
	MaxSize() int
	SetMaxSize(maxSize int) error
}

type lruCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	inner   *lru.Cache[string, T]
	idFunc  IDFunc[T]
	indexFn map[string]IndexFunc[T]

	// indices[name][value] is the set of ids currently reachable under that
	// value of the named index.
	indices map[string]map[string]map[string]struct{}
}

// New creates an LRU cache with the given capacity, keyed by idFunc, with one
// secondary index per entry in indexers.
func New[T any](maxSize int, idFunc IDFunc[T], indexers map[string]IndexFunc[T]) Cache[T] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	c := &lruCache[T]{
		maxSize: maxSize,
		idFunc:  idFunc,
		indexFn: indexers,
		indices: make(map[string]map[string]map[string]struct{}, len(indexers)),
	}
	for name := range indexers {
		c.indices[name] = make(map[string]map[string]struct{})
	}
	inner, _ := lru.NewWithEvict[string, T](maxSize, c.onEvict)
	c.inner = inner
	return c
}

// onEvict runs whenever the inner LRU drops a key, whether from capacity
// overflow, an explicit Remove, or a replace-on-Add. It only cleans up the
// secondary indices; capacity-eviction accounting happens in Add, which is
// the only call site that can tell a true overflow apart from these other
// cases.
func (c *lruCache[T]) onEvict(id string, item T) {
	c.removeFromIndicesLocked(id, item)
}

func (c *lruCache[T]) removeFromIndicesLocked(id string, item T) {
	for name, fn := range c.indexFn {
		byValue := c.indices[name]
		for _, value := range fn(item) {
			set, ok := byValue[value]
			if !ok {
				continue
			}
			delete(set, id)
			if len(set) == 0 {
				delete(byValue, value)
			}
		}
	}
}

func (c *lruCache[T]) addToIndicesLocked(id string, item T) {
	for name, fn := range c.indexFn {
		byValue := c.indices[name]
		for _, value := range fn(item) {
			if byValue[value] == nil {
				byValue[value] = make(map[string]struct{})
			}
			byValue[value][id] = struct{}{}
		}
	}
}

// Add inserts or replaces an item. If already present, it is removed first
// so it cleanly re-enters at most-recently-used position. Only a genuine
// capacity overflow — adding a new key while already at maxSize — counts as
// an eviction; replacing an existing key never does.
func (c *lruCache[T]) Add(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.idFunc(item)

	if old, ok := c.inner.Peek(id); ok {
		c.removeFromIndicesLocked(id, old)
		c.inner.Remove(id)
		c.inner.Add(id, item)
		c.addToIndicesLocked(id, item)
		metrics.CacheSize.Set(float64(c.inner.Len()))
		return
	}

	atCapacity := c.inner.Len() >= c.maxSize
	c.inner.Add(id, item)
	c.addToIndicesLocked(id, item)
	if atCapacity {
		metrics.CacheEvictionsTotal.Inc()
	}
	metrics.CacheSize.Set(float64(c.inner.Len()))
}

// Get looks up an item by id, promoting it to most-recently-used on a hit.
func (c *lruCache[T]) Get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(id)
}

func (c *lruCache[T]) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.inner.Peek(id)
	if !ok {
		return false
	}
	c.removeFromIndicesLocked(id, item)
	c.inner.Remove(id)
	metrics.CacheSize.Set(float64(c.inner.Len()))
	return true
}

func (c *lruCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
	for name := range c.indexFn {
		c.indices[name] = make(map[string]map[string]struct{})
	}
	metrics.CacheSize.Set(0)
}

// resolveLocked resolves a set of ids through the LRU's own Get, which —
// matching the reference implementation's behavior — promotes each looked-up
// id to most-recently-used as a side effect of a by-X lookup.
func (c *lruCache[T]) resolveLocked(ids map[string]struct{}) []T {
	out := make([]T, 0, len(ids))
	for id := range ids {
		if item, ok := c.inner.Get(id); ok {
			out = append(out, item)
		}
	}
	return out
}

func (c *lruCache[T]) GetByIndex(index, value string) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(c.indices[index][value])
}

// GetAll returns a snapshot of every cached item, in LRU order
// (least-recently-used first), without affecting recency.
func (c *lruCache[T]) GetAll() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.inner.Keys()
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		if item, ok := c.inner.Peek(k); ok {
			out = append(out, item)
		}
	}
	return out
}

func (c *lruCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}

func (c *lruCache[T]) MaxSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

func (c *lruCache[T]) SetMaxSize(maxSize int) error {
	if maxSize <= 0 {
		return errMaxSizeMustBePositive
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = maxSize
	c.inner.Resize(maxSize)
	return nil
}

var errMaxSizeMustBePositive = cacheError("maximum size must be positive")

type cacheError string

func (e cacheError) Error() string { return string(e) }
