package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/ports"
)

// CounterStore persists window counters in SQLite. The additive upsert
// keeps concurrent increments from losing updates.
type CounterStore struct {
	db *DB
}

var _ ports.CounterStore = (*CounterStore)(nil)

// NewCounterStore creates a SQLite-backed counter store.
func NewCounterStore(db *DB) *CounterStore {
	return &CounterStore{db: db}
}

func (s *CounterStore) Increment(ctx context.Context, subject string, w ratelimit.WindowType, windowStart time.Time, by int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO window_counters (subject, window_type, window_start, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject, window_type, window_start)
		DO UPDATE SET count = count + excluded.count
		RETURNING count
	`, subject, string(w), windowStart.UTC().UnixNano(), by).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: increment counter: %v", ports.ErrStoreUnavailable, err)
	}
	return count, nil
}

func (s *CounterStore) Count(ctx context.Context, subject string, w ratelimit.WindowType, windowStart time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM window_counters
		WHERE subject = ? AND window_type = ? AND window_start = ?
	`, subject, string(w), windowStart.UTC().UnixNano()).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read counter: %v", ports.ErrStoreUnavailable, err)
	}
	return count, nil
}

func (s *CounterStore) Reset(ctx context.Context, subject string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM window_counters WHERE subject = ?", subject)
	if err != nil {
		return fmt.Errorf("%w: reset counters: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

// Cleanup deletes counters whose window ended before the cutoff.
func (s *CounterStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, w := range ratelimit.WindowOrder {
		cutoff := before.UTC().Add(-w.Duration()).UnixNano()
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM window_counters WHERE window_type = ? AND window_start < ?
		`, string(w), cutoff)
		if err != nil {
			return total, fmt.Errorf("%w: cleanup counters: %v", ports.ErrStoreUnavailable, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("%w: cleanup counters: %v", ports.ErrStoreUnavailable, err)
		}
		total += n
	}
	return total, nil
}
