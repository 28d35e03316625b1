package sqlite

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artpar/usagegate/domain/usage"
	"github.com/artpar/usagegate/ports"
)

// LedgerStore persists usage events in SQLite.
type LedgerStore struct {
	db *DB
}

var _ ports.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates a SQLite-backed usage ledger.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Append(ctx context.Context, ev usage.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (id, subject, capability, quantity, unit_cost, total_cost, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Subject, ev.Capability, ev.Quantity,
		ev.UnitCost.String(), ev.TotalCost.String(), ev.OccurredAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrLedgerWrite, err)
	}
	return nil
}

func (s *LedgerStore) Summarize(ctx context.Context, subject string, from, to time.Time) (usage.Summary, error) {
	// Costs are summed in Go: SQLite would coerce the decimal text to
	// float and lose sub-cent precision.
	rows, err := s.db.QueryContext(ctx, `
		SELECT capability, SUM(quantity), GROUP_CONCAT(total_cost, '|')
		FROM usage_events
		WHERE subject = ? AND occurred_at >= ? AND occurred_at <= ?
		GROUP BY capability
	`, subject, from.UTC().UnixNano(), to.UTC().UnixNano())
	if err != nil {
		return usage.Summary{}, fmt.Errorf("%w: summarize usage: %v", ports.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	summary := usage.Summary{
		Subject:     subject,
		PeriodStart: from.UTC(),
		PeriodEnd:   to.UTC(),
		TotalCost:   decimal.Zero,
	}
	for rows.Next() {
		var (
			capability string
			calls      int64
			costs      string
		)
		if err := rows.Scan(&capability, &calls, &costs); err != nil {
			return usage.Summary{}, fmt.Errorf("%w: scan usage row: %v", ports.ErrStoreUnavailable, err)
		}
		cost, err := sumDecimalList(costs)
		if err != nil {
			return usage.Summary{}, fmt.Errorf("%w: parse cost: %v", ports.ErrStoreUnavailable, err)
		}
		summary.ByCapability = append(summary.ByCapability, usage.CapabilityUsage{
			Capability: capability,
			Calls:      calls,
			Cost:       cost,
		})
		summary.TotalCalls += calls
		summary.TotalCost = summary.TotalCost.Add(cost)
	}
	if err := rows.Err(); err != nil {
		return usage.Summary{}, fmt.Errorf("%w: iterate usage rows: %v", ports.ErrStoreUnavailable, err)
	}
	sort.Slice(summary.ByCapability, func(i, j int) bool {
		return summary.ByCapability[i].Capability < summary.ByCapability[j].Capability
	})
	return summary, nil
}

func (s *LedgerStore) Recent(ctx context.Context, subject string, limit int) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, capability, quantity, unit_cost, total_cost, occurred_at
		FROM usage_events
		WHERE subject = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list usage events: %v", ports.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var events []usage.Event
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate usage events: %v", ports.ErrStoreUnavailable, err)
	}
	return events, nil
}

func scanEvent(scan func(...any) error) (usage.Event, error) {
	var (
		ev                  usage.Event
		unitCost, totalCost string
		occurredAt          int64
	)
	if err := scan(&ev.ID, &ev.Subject, &ev.Capability, &ev.Quantity, &unitCost, &totalCost, &occurredAt); err != nil {
		return usage.Event{}, fmt.Errorf("%w: scan usage event: %v", ports.ErrStoreUnavailable, err)
	}
	var err error
	if ev.UnitCost, err = decimal.NewFromString(unitCost); err != nil {
		return usage.Event{}, fmt.Errorf("%w: parse unit cost: %v", ports.ErrStoreUnavailable, err)
	}
	if ev.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return usage.Event{}, fmt.Errorf("%w: parse total cost: %v", ports.ErrStoreUnavailable, err)
	}
	ev.OccurredAt = time.Unix(0, occurredAt).UTC()
	return ev, nil
}

func sumDecimalList(joined string) (decimal.Decimal, error) {
	total := decimal.Zero
	start := 0
	for i := 0; i <= len(joined); i++ {
		if i == len(joined) || joined[i] == '|' {
			if i > start {
				d, err := decimal.NewFromString(joined[start:i])
				if err != nil {
					return decimal.Zero, err
				}
				total = total.Add(d)
			}
			start = i + 1
		}
	}
	return total, nil
}
