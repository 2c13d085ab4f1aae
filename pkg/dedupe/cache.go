// Package dedupe provides bounded, mutex-guarded caches for suppressing
// redelivered triggers and for pinning one resolved thread per trigger.
package dedupe

import (
	"container/list"
	"sync"
)

const defaultMaxSize = 1000

// Cache tracks recently seen keys. CheckAndRegister is the only read/write
// entry point so the contains check and the insert are indivisible with
// respect to concurrent callers. The mutex is never held across I/O.
//
// When the size bound is exceeded the oldest half of the entries is evicted in
// one batch. Re-admitting an evicted duplicate is possible but only risks a
// rare duplicate response, which is the accepted tradeoff for amortized O(1)
// eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // insertion order, oldest at front
	maxSize int
}

// NewCache creates a cache bounded to maxSize keys. Non-positive sizes fall
// back to the default bound.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &Cache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// CheckAndRegister atomically registers key if it has not been seen. It
// returns true if the key was newly registered (caller should proceed) and
// false if it was already present (caller must abort without side effects).
func (c *Cache) CheckAndRegister(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[key]; ok {
		return false
	}

	c.seen[key] = c.order.PushBack(key)
	if len(c.seen) > c.maxSize {
		c.evictOldestHalfLocked()
	}
	return true
}

// Len reports the current number of tracked keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictOldestHalfLocked drops the oldest half of the entries in one batch.
// Must be called with mu held.
func (c *Cache) evictOldestHalfLocked() {
	toDrop := len(c.seen) / 2
	for i := 0; i < toDrop; i++ {
		front := c.order.Front()
		if front == nil {
			return
		}
		key, _ := front.Value.(string)
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// ResolutionCache maps an originating event identifier to its resolved thread
// identifier, with the same atomicity and eviction discipline as Cache. Once a
// thread is registered for an event every later resolution attempt for that
// event returns the same thread instead of creating a second one.
type ResolutionCache struct {
	mu      sync.Mutex
	entries map[string]*resolutionEntry
	order   *list.List
	maxSize int
}

type resolutionEntry struct {
	value   string
	element *list.Element
}

func NewResolutionCache(maxSize int) *ResolutionCache {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &ResolutionCache{
		entries: make(map[string]*resolutionEntry),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Resolve returns the registered value for key, if any.
func (c *ResolutionCache) Resolve(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	return entry.value, true
}

// Register stores value under key, replacing any previous value, and enforces
// the size bound with a batch eviction of the oldest half.
func (c *ResolutionCache) Register(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.value = value
		c.order.MoveToBack(entry.element)
		return
	}

	c.entries[key] = &resolutionEntry{value: value, element: c.order.PushBack(key)}
	if len(c.entries) > c.maxSize {
		toDrop := len(c.entries) / 2
		for i := 0; i < toDrop; i++ {
			front := c.order.Front()
			if front == nil {
				return
			}
			key, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.entries, key)
		}
	}
}

// Len reports the current number of registered resolutions.
func (c *ResolutionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
