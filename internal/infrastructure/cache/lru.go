package cache

import (
	"bytes"
	"container/list"
	"errors"
	"sync"
	"time"
)

const DefaultMaxEntries = 1000

var ErrInvalidTTL = errors.New("cache: ttl must be positive")

// EvictReason says why an entry left the local tier
type EvictReason int

const (
	EvictCapacity EvictReason = iota
	EvictExpired
)

// Entry is a cached value with its access metadata
type Entry struct {
	Key            string
	Value          []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
	AccessCount    uint64
	LastAccessedAt time.Time
	SizeBytes      int
}

// Expired reports whether the entry is logically absent at now
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// LRU is a bounded store ordered by last access. The front of order is the
// most recently accessed entry.
type LRU struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
	clock    func() time.Time
	onEvict  func(key string, reason EvictReason)
}

// NewLRU creates a store holding at most capacity entries
func NewLRU(capacity int, clock func() time.Time) *LRU {
	if capacity <= 0 {
		capacity = DefaultMaxEntries
	}
	if clock == nil {
		clock = time.Now
	}
	return &LRU{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		clock:    clock,
	}
}

// OnEvict registers a callback invoked under the lock for every removal
// caused by capacity or expiry
func (c *LRU) OnEvict(fn func(key string, reason EvictReason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get returns a copy of the live entry, including its Value bytes, and
// marks it most recently used
func (c *LRU) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}

	now := c.clock()
	entry := el.Value.(*Entry)
	if entry.Expired(now) {
		c.removeElement(el, EvictExpired)
		return Entry{}, false
	}

	entry.AccessCount++
	entry.LastAccessedAt = now
	c.order.MoveToFront(el)
	out := *entry
	out.Value = bytes.Clone(entry.Value)
	return out, true
}

// Set stores a copy of value for ttl, evicting the least recently
// accessed entry when a new key would exceed capacity
func (c *LRU) Set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	entry := &Entry{
		Key:            key,
		Value:          bytes.Clone(value),
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		SizeBytes:      len(key) + len(value),
	}

	if el, ok := c.items[key]; ok {
		el.Value = entry
		c.order.MoveToFront(el)
		return nil
	}

	for c.order.Len() >= c.capacity {
		c.removeElement(c.order.Back(), EvictCapacity)
	}

	c.items[key] = c.order.PushFront(entry)
	return nil
}

// Delete removes key and reports whether it was present
func (c *LRU) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

// Clear drops every entry
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element, c.capacity)
	c.order.Init()
}

// PurgeExpired physically removes expired entries and returns how many
func (c *LRU) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	purged := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*Entry).Expired(now) {
			c.removeElement(el, EvictExpired)
			purged++
		}
		el = prev
	}
	return purged
}

// Len returns the number of physically present entries
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the maximum entry count
func (c *LRU) Capacity() int {
	return c.capacity
}

func (c *LRU) removeElement(el *list.Element, reason EvictReason) {
	entry := el.Value.(*Entry)
	c.order.Remove(el)
	delete(c.items, entry.Key)
	if c.onEvict != nil {
		c.onEvict(entry.Key, reason)
	}
}
