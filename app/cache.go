package app

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/usagegate/domain/ratelimit"
)

// windowCache caches durable window counts for the check fast path.
//
// Every cached count originates from the counter store (a read or the
// value returned by an increment), tagged with the windowStart it was
// observed for. Stale tags are treated as misses, so the cache can
// under-report after a write it did not see, but never reports a count
// above what the store has persisted.
type windowCache struct {
	shards    []*cacheShard
	numShards uint32
}

type cacheShard struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

type cacheKey struct {
	subject string
	window  ratelimit.WindowType
}

type cacheEntry struct {
	count       int64
	windowStart time.Time
	refreshedAt time.Time
}

func newWindowCache(numShards int) *windowCache {
	if numShards <= 0 {
		numShards = 32
	}
	c := &windowCache{
		shards:    make([]*cacheShard, numShards),
		numShards: uint32(numShards),
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[cacheKey]cacheEntry)}
	}
	return c
}

func (c *windowCache) getShard(subject string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(subject))
	return c.shards[h.Sum32()%c.numShards]
}

// get returns the cached count if the entry's tag matches windowStart.
func (c *windowCache) get(subject string, w ratelimit.WindowType, windowStart time.Time) (int64, bool) {
	shard := c.getShard(subject)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	e, ok := shard.entries[cacheKey{subject: subject, window: w}]
	if !ok || !e.windowStart.Equal(windowStart) {
		return 0, false
	}
	return e.count, true
}

// set stores a count observed from the durable store. Counts are
// monotonic within a window, so the larger value wins when an older
// observation arrives late.
func (c *windowCache) set(subject string, w ratelimit.WindowType, windowStart time.Time, count int64, now time.Time) {
	shard := c.getShard(subject)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	k := cacheKey{subject: subject, window: w}
	if e, ok := shard.entries[k]; ok && e.windowStart.Equal(windowStart) && e.count > count {
		return
	}
	shard.entries[k] = cacheEntry{count: count, windowStart: windowStart, refreshedAt: now}
}

// invalidate drops all entries for a subject.
func (c *windowCache) invalidate(subject string) {
	shard := c.getShard(subject)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	for k := range shard.entries {
		if k.subject == subject {
			delete(shard.entries, k)
		}
	}
}

// sweep evicts entries whose tagged window has rolled over.
func (c *windowCache) sweep(now time.Time) int {
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for k, e := range shard.entries {
			if !e.windowStart.Equal(ratelimit.WindowStart(k.window, now)) {
				delete(shard.entries, k)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

func (c *windowCache) len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}
