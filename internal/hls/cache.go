package hls

import (
	"log"
	"sync"
	"time"
)

type cacheEntry struct {
	data     []byte
	added    time.Time
	lastUsed time.Time
}

// SegmentCache holds remuxed segments in memory, bounded by total bytes
// and by age. Eviction is oldest-use-first.
type SegmentCache struct {
	mu sync.Mutex

	entries  map[string]*cacheEntry
	total    int64
	maxBytes int64
	ttl      time.Duration
}

func NewSegmentCache(maxBytes int64, ttl time.Duration) *SegmentCache {
	return &SegmentCache{
		entries:  make(map[string]*cacheEntry),
		maxBytes: maxBytes,
		ttl:      ttl,
	}
}

func (c *SegmentCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e.lastUsed = time.Now()
	return e.data, true
}

func (c *SegmentCache) Put(key string, data []byte) {
	if int64(len(data)) > c.maxBytes {
		return
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.total -= int64(len(old.data))
	}
	c.entries[key] = &cacheEntry{data: data, added: now, lastUsed: now}
	c.total += int64(len(data))

	for c.total > c.maxBytes {
		c.evictOldestLocked()
	}
}

func (c *SegmentCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.lastUsed.Before(oldest) {
			oldestKey = k
			oldest = e.lastUsed
		}
	}
	if oldestKey == "" {
		return
	}
	c.total -= int64(len(c.entries[oldestKey].data))
	delete(c.entries, oldestKey)
}

// Sweep drops entries older than the TTL. Returns how many were dropped.
func (c *SegmentCache) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if now.Sub(e.added) >= c.ttl {
			c.total -= int64(len(e.data))
			delete(c.entries, k)
			n++
		}
	}
	if n > 0 {
		log.Printf("[hls] cache sweep: dropped %d segments, %d bytes held", n, c.total)
	}
	return n
}

func (c *SegmentCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *SegmentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
