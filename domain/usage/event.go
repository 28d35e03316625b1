// Package usage provides metered usage event types and aggregation
// functions. All functions are pure - no side effects.
package usage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event represents a single metered call (immutable value type).
// Events are appended once and never mutated or deleted; they are the
// source of truth for all billing calculations.
type Event struct {
	ID         string
	Subject    string
	Capability string
	Quantity   int64
	UnitCost   decimal.Decimal
	TotalCost  decimal.Decimal
	OccurredAt time.Time
}

// NewEvent builds an event for quantity calls at unitCost each.
// This is a PURE function.
func NewEvent(id, subject, capability string, quantity int64, unitCost decimal.Decimal, occurredAt time.Time) (Event, error) {
	if subject == "" {
		return Event{}, fmt.Errorf("usage event: empty subject")
	}
	if capability == "" {
		return Event{}, fmt.Errorf("usage event: empty capability")
	}
	if quantity < 1 {
		return Event{}, fmt.Errorf("usage event: quantity %d, must be >= 1", quantity)
	}

	return Event{
		ID:         id,
		Subject:    subject,
		Capability: capability,
		Quantity:   quantity,
		UnitCost:   unitCost,
		TotalCost:  unitCost.Mul(decimal.NewFromInt(quantity)),
		OccurredAt: occurredAt.UTC(),
	}, nil
}

// CapabilityUsage is per-capability aggregated usage (value type).
type CapabilityUsage struct {
	Capability string
	Calls      int64
	Cost       decimal.Decimal
}

// Summary represents aggregated usage for a period (value type).
type Summary struct {
	Subject      string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	TotalCalls   int64
	TotalCost    decimal.Decimal
	ByCapability []CapabilityUsage
}
