package resolve

import "sync"

// defaultCacheBytes caps how much fetched audio stays in memory.
const defaultCacheBytes = 128 << 20

// payloadCache holds fetched track payloads in memory with FIFO eviction
// once the byte cap is exceeded.
type payloadCache struct {
	mu       sync.Mutex
	maxBytes int
	size     int
	entries  map[string]cacheEntry
	order    []string
}

type cacheEntry struct {
	name string
	data []byte
}

func newPayloadCache(maxBytes int) *payloadCache {
	return &payloadCache{
		maxBytes: maxBytes,
		entries:  make(map[string]cacheEntry),
	}
}

func (c *payloadCache) get(trackID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[trackID]
	return e.data, ok
}

func (c *payloadCache) name(trackID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[trackID].name
}

func (c *payloadCache) put(trackID, name string, data []byte) {
	if len(data) > c.maxBytes {
		return // never evict everything for one oversized payload
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[trackID]; ok {
		c.size -= len(old.data)
		c.dropFromOrder(trackID)
	}

	c.entries[trackID] = cacheEntry{name: name, data: data}
	c.order = append(c.order, trackID)
	c.size += len(data)

	for c.size > c.maxBytes && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		c.size -= len(c.entries[oldest].data)
		delete(c.entries, oldest)
	}
}

func (c *payloadCache) remove(trackID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[trackID]; ok {
		c.size -= len(e.data)
		delete(c.entries, trackID)
		c.dropFromOrder(trackID)
	}
}

func (c *payloadCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.order = nil
	c.size = 0
}

// dropFromOrder removes one id from the eviction order. Callers hold c.mu.
func (c *payloadCache) dropFromOrder(trackID string) {
	for i, id := range c.order {
		if id == trackID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
