package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artpar/usagegate/domain/billing"
	"github.com/artpar/usagegate/ports"
)

// CycleStore persists billing cycles in SQLite.
type CycleStore struct {
	db *DB
}

var _ ports.CycleStore = (*CycleStore)(nil)

// NewCycleStore creates a SQLite-backed cycle store.
func NewCycleStore(db *DB) *CycleStore {
	return &CycleStore{db: db}
}

const cycleColumns = "id, subject, plan_id, period_start, period_end, status, total_calls, total_cost, created_at"

func (s *CycleStore) Active(ctx context.Context, subject string, at time.Time) (billing.Cycle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cycleColumns+` FROM billing_cycles
		WHERE subject = ? AND status = ? AND period_start <= ? AND period_end >= ?
		ORDER BY period_start DESC
		LIMIT 1
	`, subject, string(billing.CycleActive), at.UTC().UnixNano(), at.UTC().UnixNano())
	return scanCycle(row.Scan)
}

func (s *CycleStore) Get(ctx context.Context, id string) (billing.Cycle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cycleColumns+` FROM billing_cycles WHERE id = ?
	`, id)
	return scanCycle(row.Scan)
}

func (s *CycleStore) Create(ctx context.Context, c billing.Cycle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_cycles (`+cycleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Subject, c.PlanID, c.Start.UTC().UnixNano(), c.End.UTC().UnixNano(),
		string(c.Status), c.TotalCalls, c.TotalCost.String(), c.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: create cycle: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *CycleStore) UpdateTotals(ctx context.Context, id string, totalCalls int64, totalCost decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE billing_cycles SET total_calls = ?, total_cost = ? WHERE id = ?
	`, totalCalls, totalCost.String(), id)
	if err != nil {
		return fmt.Errorf("%w: update cycle totals: %v", ports.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update cycle totals: %v", ports.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (s *CycleStore) ListElapsedActive(ctx context.Context, now time.Time) ([]billing.Cycle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cycleColumns+` FROM billing_cycles
		WHERE status = ? AND period_end < ?
		ORDER BY period_end ASC
	`, string(billing.CycleActive), now.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("%w: list elapsed cycles: %v", ports.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var cycles []billing.Cycle
	for rows.Next() {
		c, err := scanCycle(rows.Scan)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate cycles: %v", ports.ErrStoreUnavailable, err)
	}
	return cycles, nil
}

func (s *CycleStore) Close(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE billing_cycles SET status = ? WHERE id = ? AND status = ?
	`, string(billing.CycleClosed), id, string(billing.CycleActive))
	if err != nil {
		return fmt.Errorf("%w: close cycle: %v", ports.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: close cycle: %v", ports.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func scanCycle(scan func(...any) error) (billing.Cycle, error) {
	var (
		c          billing.Cycle
		start, end int64
		status     string
		totalCost  string
		createdAt  int64
	)
	err := scan(&c.ID, &c.Subject, &c.PlanID, &start, &end, &status, &c.TotalCalls, &totalCost, &createdAt)
	if err == sql.ErrNoRows {
		return billing.Cycle{}, ports.ErrNotFound
	}
	if err != nil {
		return billing.Cycle{}, fmt.Errorf("%w: scan cycle: %v", ports.ErrStoreUnavailable, err)
	}
	c.Start = time.Unix(0, start).UTC()
	c.End = time.Unix(0, end).UTC()
	c.Status = billing.CycleStatus(status)
	if c.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return billing.Cycle{}, fmt.Errorf("%w: parse cycle cost: %v", ports.ErrStoreUnavailable, err)
	}
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	return c, nil
}
