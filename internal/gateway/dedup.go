package gateway

import (
	"sync"
	"time"
)

const (
	// dedupWindow is how long a repeated fingerprint counts as an
	// accidental duplicate.
	dedupWindow = 60 * time.Second
	// dedupCapacity bounds the cache; the oldest entry is evicted
	// when full.
	dedupCapacity = 100
)

// dedupCache is the advisory in-memory guard against accidental double
// submission. It is intentionally non-durable: the authoritative guard
// is the client disabling its submit action until a response arrives.
type dedupCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	order   []string
}

func newDedupCache() *dedupCache {
	return &dedupCache{entries: make(map[string]time.Time)}
}

// seen reports whether the fingerprint was recorded within the window,
// recording it when it was not. Expired entries are purged on each call.
func (c *dedupCache) seen(fingerprint string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.order) > 0 {
		oldest := c.order[0]
		stamp, ok := c.entries[oldest]
		if ok && now.Sub(stamp) <= dedupWindow {
			break
		}
		delete(c.entries, oldest)
		c.order = c.order[1:]
	}

	if stamp, ok := c.entries[fingerprint]; ok && now.Sub(stamp) <= dedupWindow {
		return true
	}

	if len(c.order) >= dedupCapacity {
		evicted := c.order[0]
		delete(c.entries, evicted)
		c.order = c.order[1:]
	}
	c.entries[fingerprint] = now
	c.order = append(c.order, fingerprint)
	return false
}
