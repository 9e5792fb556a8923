package monitor

import "sync"

// DefaultControlBlockCapacity bounds the control block cache.
const DefaultControlBlockCapacity = 100000

// KCB is a registry key control block binding seen by the kernel collector.
type KCB struct {
	Handle uint64
	Name   string
}

// ControlBlockCache maps registry key handles to key names. It saturates:
// once full, new handles are dropped and nothing is evicted. The first name
// stored for a handle wins.
type ControlBlockCache struct {
	mu       sync.RWMutex
	capacity int
	names    map[uint64]string
}

// NewControlBlockCache creates a cache. A capacity <= 0 selects the default.
func NewControlBlockCache(capacity int) *ControlBlockCache {
	if capacity <= 0 {
		capacity = DefaultControlBlockCapacity
	}
	return &ControlBlockCache{
		capacity: capacity,
		names:    make(map[uint64]string, min(capacity, 4096)),
	}
}

// Add stores name for handle. It reports false when the handle is already
// known or the cache is full.
func (c *ControlBlockCache) Add(handle uint64, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.names[handle]; ok {
		return false
	}
	if len(c.names) >= c.capacity {
		return false
	}
	c.names[handle] = name
	return true
}

// Lookup returns the name stored for handle.
func (c *ControlBlockCache) Lookup(handle uint64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.names[handle]
	return n, ok
}

// Len is the number of cached handles.
func (c *ControlBlockCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// Capacity is the saturation limit.
func (c *ControlBlockCache) Capacity() int { return c.capacity }

// Reset forgets every handle.
func (c *ControlBlockCache) Reset() {
	c.mu.Lock()
	c.names = make(map[uint64]string, min(c.capacity, 4096))
	c.mu.Unlock()
}
