package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/usagegate/domain/key"
	"github.com/artpar/usagegate/ports"
)

// KeyStore is an in-memory implementation of ports.KeyStore.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]key.Key // by ID
}

// NewKeyStore creates a new in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]key.Key)}
}

// GetByPrefix retrieves candidate keys matching a lookup prefix.
func (s *KeyStore) GetByPrefix(ctx context.Context, prefix string) ([]key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []key.Key
	for _, k := range s.keys {
		if k.Prefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = k
	return nil
}

// Revoke marks a key as revoked.
func (s *KeyStore) Revoke(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return ports.ErrNotFound
	}
	t := at.UTC()
	k.RevokedAt = &t
	s.keys[id] = k
	return nil
}

// UpdateLastUsed updates the last used timestamp.
func (s *KeyStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return ports.ErrNotFound
	}
	t := at.UTC()
	k.LastUsed = &t
	s.keys[id] = k
	return nil
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
