package protocol

import (
	"sync"
	"time"
)

// CacheKey identifies one response-cache slot: a command name, the
// correlation id of the request that first populated it, and the
// requesting invoker's client id.
type CacheKey struct {
	CommandName   string
	CorrelationID string
	InvokerID     string
}

// CachedResponse is the full wire response stored at a cache key.
type CachedResponse struct {
	Payload  []byte
	Metadata ResponseMetadata
}

type cacheEntry struct {
	expires time.Time
	ready   chan struct{}
	value   *CachedResponse
	err     error
}

// ResponseCache serves idempotent command executions: the first caller
// for a key executes fn and every concurrent or subsequent caller within
// TTL receives the same result without re-executing.
type ResponseCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[CacheKey]*cacheEntry

	stop chan struct{}
	done chan struct{}
}

// NewResponseCache builds a cache with the given cacheable duration. A
// non-positive ttl disables caching: Exec always executes fn.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	c := &ResponseCache{
		ttl:     ttl,
		entries: make(map[CacheKey]*cacheEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go c.sweep()
	} else {
		close(c.done)
	}
	return c
}

// Exec returns the cached result for key if present and unexpired,
// reserving the slot and invoking fn exactly once otherwise. Concurrent
// callers for the same key block until the first caller's fn completes
// and then share its result. The returned bool reports whether the
// result was already cached (true) or fn just ran (false).
func (c *ResponseCache) Exec(key CacheKey, fn func() (*CachedResponse, error)) (*CachedResponse, bool, error) {
	if c.ttl <= 0 {
		v, err := fn()
		return v, false, err
	}

	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if ok {
			c.mu.Unlock()
			// expires is the zero value until the owning caller's fn
			// returns, so an in-flight entry must always be waited on
			// here rather than treated as a miss.
			<-e.ready
			if time.Now().Before(e.expires) {
				return e.value, true, e.err
			}
			c.mu.Lock()
			if c.entries[key] == e {
				delete(c.entries, key)
			}
			c.mu.Unlock()
			continue
		}

		e = &cacheEntry{ready: make(chan struct{})}
		c.entries[key] = e
		c.mu.Unlock()

		e.value, e.err = fn()
		e.expires = time.Now().Add(c.ttl)
		close(e.ready)

		if e.err != nil {
			c.mu.Lock()
			if c.entries[key] == e {
				delete(c.entries, key)
			}
			c.mu.Unlock()
		}
		return e.value, false, e.err
	}
}

// Close stops the background eviction sweep.
func (c *ResponseCache) Close() {
	select {
	case <-c.done:
		return
	default:
	}
	close(c.stop)
	<-c.done
}

func (c *ResponseCache) sweep() {
	defer close(c.done)
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for k, e := range c.entries {
				select {
				case <-e.ready:
					if now.After(e.expires) {
						delete(c.entries, k)
					}
				default:
				}
			}
			c.mu.Unlock()
		}
	}
}
