package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/artpar/usagegate/domain/key"
	"github.com/artpar/usagegate/ports"
)

// KeyStore persists API keys in SQLite.
type KeyStore struct {
	db *DB
}

var _ ports.KeyStore = (*KeyStore)(nil)

// NewKeyStore creates a SQLite-backed key store.
func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

func (s *KeyStore) GetByPrefix(ctx context.Context, prefix string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, hash, prefix, name, revoked_at, created_at, last_used_at
		FROM api_keys
		WHERE prefix = ?
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup keys: %v", ports.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var keys []key.Key
	for rows.Next() {
		var (
			k                     key.Key
			revokedAt, lastUsedAt sql.NullInt64
			createdAt             int64
		)
		err := rows.Scan(&k.ID, &k.Subject, &k.Hash, &k.Prefix, &k.Name, &revokedAt, &createdAt, &lastUsedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scan key: %v", ports.ErrStoreUnavailable, err)
		}
		k.CreatedAt = time.Unix(0, createdAt).UTC()
		if revokedAt.Valid {
			t := time.Unix(0, revokedAt.Int64).UTC()
			k.RevokedAt = &t
		}
		if lastUsedAt.Valid {
			t := time.Unix(0, lastUsedAt.Int64).UTC()
			k.LastUsed = &t
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate keys: %v", ports.ErrStoreUnavailable, err)
	}
	return keys, nil
}

func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, subject, hash, prefix, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, k.ID, k.Subject, k.Hash, k.Prefix, k.Name, k.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: create key: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *KeyStore) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
	`, at.UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("%w: revoke key: %v", ports.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: revoke key: %v", ports.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (s *KeyStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = ? WHERE id = ?
	`, at.UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("%w: update key last used: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}
