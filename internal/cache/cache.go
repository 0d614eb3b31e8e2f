package cache

import (
	"encoding/json"
	"sync"
	"time"
)

// Entry is an upstream payload as it was at InsertedAt. Entries are never
// modified after they are stored, only replaced.
type Entry struct {
	InsertedAt time.Time
	Payload    json.RawMessage
}

// Fresh reports whether the entry is younger than ttl at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.InsertedAt) < ttl
}

// ResponseCache maps fingerprints to upstream payloads. It never evicts:
// stale entries stay in memory until overwritten.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewResponseCache() *ResponseCache {
	return &ResponseCache{entries: make(map[string]Entry)}
}

// Get is a plain lookup; deciding whether the entry is still fresh is up
// to the caller.
func (c *ResponseCache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *ResponseCache) Put(key string, payload []byte, now time.Time) {
	stored := make(json.RawMessage, len(payload))
	copy(stored, payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{InsertedAt: now, Payload: stored}
}

func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
