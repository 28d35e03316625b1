package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/usagegate/domain/usage"
	"github.com/artpar/usagegate/ports"
)

// LedgerStore is an in-memory implementation of ports.LedgerStore.
type LedgerStore struct {
	mu     sync.RWMutex
	events map[string][]usage.Event // by subject, append order
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{events: make(map[string][]usage.Event)}
}

// Append writes one event.
func (s *LedgerStore) Append(ctx context.Context, e usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.Subject] = append(s.events[e.Subject], e)
	return nil
}

// Summarize aggregates events with OccurredAt in [start, end].
func (s *LedgerStore) Summarize(ctx context.Context, subject string, start, end time.Time) (usage.Summary, error) {
	s.mu.RLock()
	events := make([]usage.Event, len(s.events[subject]))
	copy(events, s.events[subject])
	s.mu.RUnlock()

	summary := usage.Aggregate(events, start.UTC(), end.UTC())
	summary.Subject = subject
	return summary, nil
}

// Recent returns the newest events for a subject, newest first.
func (s *LedgerStore) Recent(ctx context.Context, subject string, limit int) ([]usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[subject]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}

	out := make([]usage.Event, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Len returns the total number of events (for testing).
func (s *LedgerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, evs := range s.events {
		total += len(evs)
	}
	return total
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
