// Package memory provides in-memory implementations of storage ports.
// Suitable for tests and single-process deployments.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/ports"
)

type counterShard struct {
	mu     sync.Mutex
	counts map[counterKey]int64
}

type counterKey struct {
	subject     string
	window      ratelimit.WindowType
	windowStart int64 // unix seconds
}

// CounterStore is a sharded in-memory counter store. Sharding by
// subject reduces lock contention under concurrent request handling;
// increments for the same key are serialized by the shard mutex, so
// no updates are lost.
type CounterStore struct {
	shards    []*counterShard
	numShards int
}

// CounterStoreConfig configures the sharded counter store.
type CounterStoreConfig struct {
	NumShards int // default: 32
}

// NewCounterStore creates a new sharded in-memory counter store.
func NewCounterStore(cfg CounterStoreConfig) *CounterStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	s := &CounterStore{
		shards:    make([]*counterShard, cfg.NumShards),
		numShards: cfg.NumShards,
	}
	for i := range s.shards {
		s.shards[i] = &counterShard{counts: make(map[counterKey]int64)}
	}
	return s
}

func (s *CounterStore) getShard(subject string) *counterShard {
	h := fnv.New32a()
	h.Write([]byte(subject))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Increment atomically adds by to the counter and returns the new count.
func (s *CounterStore) Increment(ctx context.Context, subject string, w ratelimit.WindowType, windowStart time.Time, by int64) (int64, error) {
	k := counterKey{subject: subject, window: w, windowStart: windowStart.UTC().Unix()}
	shard := s.getShard(subject)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.counts[k] += by
	return shard.counts[k], nil
}

// Count returns the counter for the window, or 0 if no row exists.
func (s *CounterStore) Count(ctx context.Context, subject string, w ratelimit.WindowType, windowStart time.Time) (int64, error) {
	k := counterKey{subject: subject, window: w, windowStart: windowStart.UTC().Unix()}
	shard := s.getShard(subject)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return shard.counts[k], nil
}

// Reset removes all counter rows for a subject.
func (s *CounterStore) Reset(ctx context.Context, subject string) error {
	shard := s.getShard(subject)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	for k := range shard.counts {
		if k.subject == subject {
			delete(shard.counts, k)
		}
	}
	return nil
}

// Cleanup removes rows for windows that ended before cutoff.
func (s *CounterStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	cut := cutoff.UTC()
	for _, shard := range s.shards {
		shard.mu.Lock()
		for k := range shard.counts {
			end := time.Unix(k.windowStart, 0).UTC().Add(k.window.Duration())
			if end.Before(cut) {
				delete(shard.counts, k)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

// Len returns the total number of counter rows (for testing).
func (s *CounterStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.counts)
		shard.mu.Unlock()
	}
	return total
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
