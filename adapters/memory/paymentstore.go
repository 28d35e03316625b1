package memory

import (
	"context"
	"sync"

	"github.com/artpar/usagegate/domain/billing"
	"github.com/artpar/usagegate/ports"
)

// PaymentStore is an in-memory implementation of ports.PaymentStore.
type PaymentStore struct {
	mu       sync.RWMutex
	payments map[string][]billing.Payment // by subject, append order
}

// NewPaymentStore creates a new in-memory payment store.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{payments: make(map[string][]billing.Payment)}
}

// Create appends a payment record.
func (s *PaymentStore) Create(ctx context.Context, p billing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.Subject] = append(s.payments[p.Subject], p)
	return nil
}

// ListBySubject returns payments newest first.
func (s *PaymentStore) ListBySubject(ctx context.Context, subject string, limit int) ([]billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.payments[subject]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}

	out := make([]billing.Payment, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Ensure interface compliance.
var _ ports.PaymentStore = (*PaymentStore)(nil)
