// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/usagegate/domain/billing"
	"github.com/artpar/usagegate/domain/key"
	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/domain/usage"
	"github.com/shopspring/decimal"
)

// Sentinel errors shared across store implementations. Adapters wrap
// driver failures with these so callers can branch with errors.Is.
var (
	// ErrNotFound indicates the requested row does not exist or does
	// not belong to the requesting subject.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable indicates a transient durable-store failure.
	// Retryable by the caller; billing-relevant limits fail closed.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLedgerWrite indicates a usage event could not be persisted.
	// Never swallowed: billing completeness depends on it.
	ErrLedgerWrite = errors.New("ledger write failed")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// WindowCount is a persisted counter row for one subject and window.
type WindowCount struct {
	Subject     string
	Window      ratelimit.WindowType
	WindowStart time.Time
	Count       int64
}

// CounterStore persists per-window call counters.
//
// Increment must be atomic with respect to concurrent callers for the
// same (subject, window, windowStart) key: no lost updates, and the
// returned count reflects this caller's increment.
type CounterStore interface {
	// Increment adds by to the counter for the window, creating the row
	// on first use, and returns the new count.
	Increment(ctx context.Context, subject string, w ratelimit.WindowType, windowStart time.Time, by int64) (int64, error)

	// Count returns the counter for the window, or 0 if no row exists.
	Count(ctx context.Context, subject string, w ratelimit.WindowType, windowStart time.Time) (int64, error)

	// Reset removes all counter rows for a subject (admin override).
	Reset(ctx context.Context, subject string) error

	// Cleanup removes rows for windows that ended before cutoff.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

// LedgerStore persists immutable usage events.
type LedgerStore interface {
	// Append writes one event. Failures propagate as ErrLedgerWrite.
	Append(ctx context.Context, e usage.Event) error

	// Summarize aggregates events with OccurredAt in [start, end].
	Summarize(ctx context.Context, subject string, start, end time.Time) (usage.Summary, error)

	// Recent returns the newest events for a subject, newest first.
	Recent(ctx context.Context, subject string, limit int) ([]usage.Event, error)
}

// CycleStore persists billing cycles.
type CycleStore interface {
	// Active returns the active cycle whose period contains at.
	// Returns ErrNotFound if no such cycle exists.
	Active(ctx context.Context, subject string, at time.Time) (billing.Cycle, error)

	// Get retrieves a cycle by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (billing.Cycle, error)

	// Create stores a new cycle.
	Create(ctx context.Context, c billing.Cycle) error

	// UpdateTotals refreshes the cycle's derived totals cache.
	UpdateTotals(ctx context.Context, id string, totalCalls int64, totalCost decimal.Decimal) error

	// ListElapsedActive returns active cycles whose period ended
	// before now (candidates for closing).
	ListElapsedActive(ctx context.Context, now time.Time) ([]billing.Cycle, error)

	// Close transitions a cycle to closed.
	Close(ctx context.Context, id string) error
}

// PaymentStore persists payment records.
type PaymentStore interface {
	// Create appends a payment record.
	Create(ctx context.Context, p billing.Payment) error

	// ListBySubject returns payments newest first.
	ListBySubject(ctx context.Context, subject string, limit int) ([]billing.Payment, error)
}

// Subject represents a billed, rate-limited identity.
type Subject struct {
	ID        string
	PlanID    string
	Status    string // "active", "suspended"
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubjectStore persists subjects and their current plan.
type SubjectStore interface {
	// Get retrieves a subject by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (Subject, error)

	// Create stores a new subject.
	Create(ctx context.Context, s Subject) error

	// SetPlan changes the subject's current plan, effective
	// immediately for future checks.
	SetPlan(ctx context.Context, id, planID string, at time.Time) error

	// List returns subjects with pagination.
	List(ctx context.Context, limit, offset int) ([]Subject, error)
}

// KeyStore persists API keys for subject resolution.
type KeyStore interface {
	// GetByPrefix retrieves candidate keys matching a lookup prefix.
	GetByPrefix(ctx context.Context, prefix string) ([]key.Key, error)

	// Create stores a new key.
	Create(ctx context.Context, k key.Key) error

	// Revoke marks a key as revoked.
	Revoke(ctx context.Context, id string, at time.Time) error

	// UpdateLastUsed updates the last used timestamp.
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
}
