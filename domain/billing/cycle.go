// Package billing provides billing cycle and bill value types plus
// pure functions for invoice arithmetic.
package billing

import (
	"time"

	"github.com/artpar/usagegate/domain/plan"
	"github.com/artpar/usagegate/domain/usage"
	"github.com/shopspring/decimal"
)

// CycleStatus represents the lifecycle state of a billing cycle.
type CycleStatus string

const (
	CycleActive CycleStatus = "active"
	CycleClosed CycleStatus = "closed"
)

// Cycle represents one calendar-month accounting period for a subject
// (value type). The plan is snapshotted at creation so a mid-cycle
// upgrade does not retroactively change pricing for an elapsed cycle.
// TotalCalls and TotalCost are derived caches; the ledger remains the
// source of truth and must reproduce the same numbers.
type Cycle struct {
	ID         string
	Subject    string
	Start      time.Time
	End        time.Time
	PlanID     string
	Status     CycleStatus
	TotalCalls int64
	TotalCost  decimal.Decimal
	CreatedAt  time.Time
}

// Contains reports whether t falls within the cycle period.
// This is a PURE function.
func (c Cycle) Contains(t time.Time) bool {
	u := t.UTC()
	return !u.Before(c.Start) && !u.After(c.End)
}

// Elapsed reports whether the cycle period has fully passed.
// This is a PURE function.
func (c Cycle) Elapsed(now time.Time) bool {
	return now.UTC().After(c.End)
}

// NewCycle creates an active cycle anchored to the calendar month
// containing now, snapshotting the subject's current plan.
// This is a PURE function.
func NewCycle(id, subject, planID string, now time.Time) Cycle {
	start, end := usage.PeriodBounds(now)
	return Cycle{
		ID:        id,
		Subject:   subject,
		Start:     start,
		End:       end,
		PlanID:    planID,
		Status:    CycleActive,
		TotalCost: decimal.Zero,
		CreatedAt: now.UTC(),
	}
}

// Bill is the computed invoice for one cycle (value type).
type Bill struct {
	CycleID    string
	Subject    string
	PlanID     string
	MonthlyFee decimal.Decimal
	UsageCost  decimal.Decimal
	TotalCalls int64
	Total      decimal.Decimal
	CycleStart time.Time
	CycleEnd   time.Time
}

// ComputeBill produces the invoice for a cycle from ledger usage and
// the cycle's snapshotted plan. Total = monthly fee + usage cost.
// Idempotent for closed cycles: ledger events are immutable, so the
// same inputs always yield the same bill.
// This is a PURE function.
func ComputeBill(c Cycle, p plan.Plan, s usage.Summary) Bill {
	return Bill{
		CycleID:    c.ID,
		Subject:    c.Subject,
		PlanID:     c.PlanID,
		MonthlyFee: p.MonthlyFee,
		UsageCost:  s.TotalCost,
		TotalCalls: s.TotalCalls,
		Total:      p.MonthlyFee.Add(s.TotalCost),
		CycleStart: c.Start,
		CycleEnd:   c.End,
	}
}

// PaymentStatus represents the state of a payment record.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is an append-only payment record (value type). Recording a
// payment never mutates invoice or usage data; reconciling duplicates
// or partial payments is the payment processor's concern.
type Payment struct {
	ID          string
	Subject     string
	Amount      decimal.Decimal
	Currency    string
	Method      string
	Status      PaymentStatus
	CycleID     string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}
