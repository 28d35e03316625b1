package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/domain/key"
	"github.com/artpar/usagegate/ports"
)

// Identity resolves API keys to subjects.
type Identity struct {
	keys     ports.KeyStore
	subjects ports.SubjectStore
	clock    ports.Clock
	log      zerolog.Logger

	keyPrefix string
}

// IdentityDeps contains dependencies for Identity.
type IdentityDeps struct {
	Keys     ports.KeyStore
	Subjects ports.SubjectStore
	Clock    ports.Clock
	Logger   zerolog.Logger
}

// NewIdentity creates a new identity service. keyPrefix is the raw key
// prefix, e.g. "ug_".
func NewIdentity(deps IdentityDeps, keyPrefix string) *Identity {
	return &Identity{
		keys:      deps.Keys,
		subjects:  deps.Subjects,
		clock:     deps.Clock,
		log:       deps.Logger,
		keyPrefix: keyPrefix,
	}
}

// Resolve maps a raw API key to its subject. Malformed, unknown, and
// revoked keys all resolve to ErrInvalidKey; callers get no hint which.
func (s *Identity) Resolve(ctx context.Context, rawKey string) (ports.Subject, error) {
	prefix, ok := key.ValidateFormat(rawKey, s.keyPrefix)
	if !ok {
		return ports.Subject{}, fmt.Errorf("%w: %s", ErrInvalidKey, key.ReasonBadFormat)
	}

	candidates, err := s.keys.GetByPrefix(ctx, prefix)
	if err != nil {
		return ports.Subject{}, err
	}

	for _, k := range candidates {
		if !key.Matches(k, rawKey) {
			continue
		}
		if valid, reason := key.Validate(k); !valid {
			return ports.Subject{}, fmt.Errorf("%w: %s", ErrInvalidKey, reason)
		}

		// Best effort; resolution must not fail on a stats write.
		if err := s.keys.UpdateLastUsed(ctx, k.ID, s.clock.Now()); err != nil {
			s.log.Warn().Err(err).Str("key", k.ID).Msg("last used update failed")
		}
		return s.subjects.Get(ctx, k.Subject)
	}

	return ports.Subject{}, fmt.Errorf("%w: %s", ErrInvalidKey, key.ReasonNotFound)
}

// IssueKey generates and stores a new API key for an existing subject.
// The raw key is returned once and never stored.
func (s *Identity) IssueKey(ctx context.Context, subject, name string) (string, key.Key, error) {
	if _, err := s.subjects.Get(ctx, subject); err != nil {
		return "", key.Key{}, err
	}

	rawKey, k := key.Generate(s.keyPrefix, s.clock.Now())
	k = k.WithSubject(subject)
	k.Name = name
	if err := s.keys.Create(ctx, k); err != nil {
		return "", key.Key{}, err
	}
	s.log.Info().Str("subject", subject).Str("key", k.ID).Msg("api key issued")
	return rawKey, k, nil
}

// RevokeKey marks a key revoked, effective immediately.
func (s *Identity) RevokeKey(ctx context.Context, id string) error {
	if err := s.keys.Revoke(ctx, id, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info().Str("key", id).Msg("api key revoked")
	return nil
}
