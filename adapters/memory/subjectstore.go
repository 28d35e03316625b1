package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artpar/usagegate/ports"
)

// SubjectStore is an in-memory implementation of ports.SubjectStore.
type SubjectStore struct {
	mu       sync.RWMutex
	subjects map[string]ports.Subject
}

// NewSubjectStore creates a new in-memory subject store.
func NewSubjectStore() *SubjectStore {
	return &SubjectStore{subjects: make(map[string]ports.Subject)}
}

// Get retrieves a subject by ID.
func (s *SubjectStore) Get(ctx context.Context, id string) (ports.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subjects[id]
	if !ok {
		return ports.Subject{}, ports.ErrNotFound
	}
	return sub, nil
}

// Create stores a new subject.
func (s *SubjectStore) Create(ctx context.Context, sub ports.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[sub.ID] = sub
	return nil
}

// SetPlan changes the subject's current plan.
func (s *SubjectStore) SetPlan(ctx context.Context, id, planID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subjects[id]
	if !ok {
		return ports.ErrNotFound
	}
	sub.PlanID = planID
	sub.UpdatedAt = at.UTC()
	s.subjects[id] = sub
	return nil
}

// List returns subjects with pagination, ordered by ID.
func (s *SubjectStore) List(ctx context.Context, limit, offset int) ([]ports.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.subjects))
	for id := range s.subjects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]ports.Subject, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subjects[id])
	}
	return out, nil
}

// Ensure interface compliance.
var _ ports.SubjectStore = (*SubjectStore)(nil)
