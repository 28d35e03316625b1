package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/usagegate/domain/billing"
	"github.com/artpar/usagegate/ports"
	"github.com/shopspring/decimal"
)

// CycleStore is an in-memory implementation of ports.CycleStore.
type CycleStore struct {
	mu     sync.RWMutex
	cycles map[string]billing.Cycle // by ID
}

// NewCycleStore creates a new in-memory cycle store.
func NewCycleStore() *CycleStore {
	return &CycleStore{cycles: make(map[string]billing.Cycle)}
}

// Active returns the active cycle whose period contains at.
func (s *CycleStore) Active(ctx context.Context, subject string, at time.Time) (billing.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cycles {
		if c.Subject == subject && c.Status == billing.CycleActive && c.Contains(at) {
			return c, nil
		}
	}
	return billing.Cycle{}, ports.ErrNotFound
}

// Get retrieves a cycle by ID.
func (s *CycleStore) Get(ctx context.Context, id string) (billing.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[id]
	if !ok {
		return billing.Cycle{}, ports.ErrNotFound
	}
	return c, nil
}

// Create stores a new cycle.
func (s *CycleStore) Create(ctx context.Context, c billing.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[c.ID] = c
	return nil
}

// UpdateTotals refreshes the cycle's derived totals cache.
func (s *CycleStore) UpdateTotals(ctx context.Context, id string, totalCalls int64, totalCost decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return ports.ErrNotFound
	}
	c.TotalCalls = totalCalls
	c.TotalCost = totalCost
	s.cycles[id] = c
	return nil
}

// ListElapsedActive returns active cycles whose period ended before now.
func (s *CycleStore) ListElapsedActive(ctx context.Context, now time.Time) ([]billing.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.Cycle
	for _, c := range s.cycles {
		if c.Status == billing.CycleActive && c.Elapsed(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Close transitions a cycle to closed.
func (s *CycleStore) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return ports.ErrNotFound
	}
	c.Status = billing.CycleClosed
	s.cycles[id] = c
	return nil
}

// Ensure interface compliance.
var _ ports.CycleStore = (*CycleStore)(nil)
