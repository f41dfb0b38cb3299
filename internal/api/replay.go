package api

import (
	"sync"
	"time"
)

// replayCache remembers accepted request signatures until their timestamp can
// no longer pass the clock-skew check.
type replayCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	seen      map[string]time.Time
	nextPrune time.Time
}

func newReplayCache(ttl time.Duration) *replayCache {
	return &replayCache{ttl: ttl, seen: make(map[string]time.Time)}
}

// claim records sig at now. It reports false if sig was already claimed and has
// not expired.
func (c *replayCache) claim(sig string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.After(c.nextPrune) {
		for k, expires := range c.seen {
			if now.After(expires) {
				delete(c.seen, k)
			}
		}
		c.nextPrune = now.Add(c.ttl / 2)
	}

	if expires, ok := c.seen[sig]; ok && !now.After(expires) {
		return false
	}
	c.seen[sig] = now.Add(c.ttl)
	return true
}

func (c *replayCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
