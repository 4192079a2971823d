package source

import (
	"sync"
	"time"
)

// payloadCache keeps the last good payload per source for a fixed TTL.
type payloadCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	payload *Payload
	expires time.Time
}

func newPayloadCache(ttl time.Duration) *payloadCache {
	return &payloadCache{ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

func (c *payloadCache) get(key string) (*Payload, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	p := *e.payload
	p.Cached = true
	return &p, true
}

func (c *payloadCache) put(key string, p *Payload) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{payload: p, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *payloadCache) clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}
