package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/artpar/usagegate/domain/billing"
	"github.com/artpar/usagegate/domain/plan"
	"github.com/artpar/usagegate/domain/usage"
	"github.com/artpar/usagegate/ports"
)

// Billing orchestrates the usage ledger, billing cycles, and payments.
type Billing struct {
	ledger   ports.LedgerStore
	cycles   ports.CycleStore
	payments ports.PaymentStore
	subjects ports.SubjectStore
	clock    ports.Clock
	idGen    ports.IDGenerator
	log      zerolog.Logger

	// Hot-reloadable pricing.
	pricing atomic.Pointer[pricingConfig]

	onLedgerAppend func(capability string)
	onCycleClosed  func()
}

type pricingConfig struct {
	plans      []plan.Plan
	capability plan.CapabilityPricing
}

// BillingDeps contains dependencies for Billing.
type BillingDeps struct {
	Ledger   ports.LedgerStore
	Cycles   ports.CycleStore
	Payments ports.PaymentStore
	Subjects ports.SubjectStore
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Logger   zerolog.Logger
}

// BillingConfig contains configuration for Billing.
type BillingConfig struct {
	Plans             []plan.Plan
	CapabilityPricing plan.CapabilityPricing

	// Optional observation hooks.
	OnLedgerAppend func(capability string)
	OnCycleClosed  func()
}

// NewBilling creates a new billing service.
func NewBilling(deps BillingDeps, cfg BillingConfig) *Billing {
	b := &Billing{
		ledger:         deps.Ledger,
		cycles:         deps.Cycles,
		payments:       deps.Payments,
		subjects:       deps.Subjects,
		clock:          deps.Clock,
		idGen:          deps.IDGen,
		log:            deps.Logger,
		onLedgerAppend: cfg.OnLedgerAppend,
		onCycleClosed:  cfg.OnCycleClosed,
	}
	if b.onLedgerAppend == nil {
		b.onLedgerAppend = func(string) {}
	}
	if b.onCycleClosed == nil {
		b.onCycleClosed = func() {}
	}
	b.UpdatePricing(cfg.Plans, cfg.CapabilityPricing)
	return b
}

// UpdatePricing replaces the plan catalog and capability pricing.
// Thread-safe; takes effect for subsequent calls. Cycles already
// created keep their snapshotted plan.
func (b *Billing) UpdatePricing(plans []plan.Plan, capability plan.CapabilityPricing) {
	if len(plans) == 0 {
		plans = plan.Defaults()
	}
	if capability == nil {
		capability = plan.DefaultCapabilityPricing()
	}
	b.pricing.Store(&pricingConfig{plans: plans, capability: capability})
}

func (b *Billing) planByID(id string) (plan.Plan, error) {
	p, ok := plan.Find(b.pricing.Load().plans, id)
	if !ok {
		return plan.Plan{}, ErrInvalidPlan
	}
	return p, nil
}

// TrackUsage appends a billable event to the ledger. The unit cost is
// the subject's plan price-per-call plus the capability's price. A
// ledger write failure propagates; the event is billing truth and is
// never silently dropped.
func (b *Billing) TrackUsage(ctx context.Context, subject, capability string, quantity int64) (usage.Event, error) {
	sub, err := b.subjects.Get(ctx, subject)
	if err != nil {
		return usage.Event{}, err
	}
	p, err := b.planByID(sub.PlanID)
	if err != nil {
		return usage.Event{}, err
	}

	now := b.clock.Now()
	unit := plan.CallCost(p, b.pricing.Load().capability, capability)
	ev, err := usage.NewEvent(b.idGen.New(), subject, capability, quantity, unit, now)
	if err != nil {
		return usage.Event{}, err
	}

	if err := b.ledger.Append(ctx, ev); err != nil {
		b.log.Error().Err(err).Str("subject", subject).Str("capability", capability).
			Msg("ledger append failed")
		return usage.Event{}, err
	}
	b.onLedgerAppend(capability)

	// Refresh the cycle's derived totals. Best effort: the ledger is
	// the source of truth and totals are recomputed at close.
	if err := b.refreshCycleTotals(ctx, subject, now); err != nil {
		b.log.Warn().Err(err).Str("subject", subject).Msg("cycle totals refresh failed")
	}

	return ev, nil
}

func (b *Billing) refreshCycleTotals(ctx context.Context, subject string, now time.Time) error {
	c, err := b.currentCycle(ctx, subject, now)
	if err != nil {
		return err
	}
	s, err := b.ledger.Summarize(ctx, subject, c.Start, c.End)
	if err != nil {
		return err
	}
	return b.cycles.UpdateTotals(ctx, c.ID, s.TotalCalls, s.TotalCost)
}

// SummaryReport is a usage summary annotated with the subject's
// monthly allowance.
type SummaryReport struct {
	usage.Summary
	PlanID         string `json:"plan_id"`
	MonthlyCalls   int64  `json:"monthly_calls"`
	RemainingCalls int64  `json:"remaining_calls"`
}

// UsageSummary aggregates ledger events for a subject. A zero bound
// defaults to the matching edge of the current calendar-month period,
// so a caller may supply only start or only end.
func (b *Billing) UsageSummary(ctx context.Context, subject string, start, end time.Time) (SummaryReport, error) {
	sub, err := b.subjects.Get(ctx, subject)
	if err != nil {
		return SummaryReport{}, err
	}
	p, err := b.planByID(sub.PlanID)
	if err != nil {
		return SummaryReport{}, err
	}

	periodStart, periodEnd := usage.PeriodBounds(b.clock.Now())
	if start.IsZero() {
		start = periodStart
	}
	if end.IsZero() {
		end = periodEnd
	}
	if end.Before(start) {
		return SummaryReport{}, ErrInvalidRange
	}
	s, err := b.ledger.Summarize(ctx, subject, start, end)
	if err != nil {
		return SummaryReport{}, err
	}

	remaining := p.MonthlyCalls - s.TotalCalls
	if remaining < 0 {
		remaining = 0
	}
	return SummaryReport{
		Summary:        s,
		PlanID:         p.ID,
		MonthlyCalls:   p.MonthlyCalls,
		RemainingCalls: remaining,
	}, nil
}

// RecentUsage returns the newest ledger events for a subject.
func (b *Billing) RecentUsage(ctx context.Context, subject string, limit int) ([]usage.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return b.ledger.Recent(ctx, subject, limit)
}

// CurrentCycle returns the subject's active calendar-month cycle,
// creating one with the current plan snapshot if none exists.
func (b *Billing) CurrentCycle(ctx context.Context, subject string) (billing.Cycle, error) {
	return b.currentCycle(ctx, subject, b.clock.Now())
}

func (b *Billing) currentCycle(ctx context.Context, subject string, now time.Time) (billing.Cycle, error) {
	c, err := b.cycles.Active(ctx, subject, now)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return billing.Cycle{}, err
	}

	sub, err := b.subjects.Get(ctx, subject)
	if err != nil {
		return billing.Cycle{}, err
	}

	c = billing.NewCycle(b.idGen.New(), subject, sub.PlanID, now)
	if err := b.cycles.Create(ctx, c); err != nil {
		// A concurrent caller may have created the cycle first.
		if existing, lookupErr := b.cycles.Active(ctx, subject, now); lookupErr == nil {
			return existing, nil
		}
		return billing.Cycle{}, err
	}
	b.log.Info().Str("subject", subject).Str("cycle", c.ID).Str("plan", c.PlanID).
		Time("start", c.Start).Msg("billing cycle opened")
	return c, nil
}

// CalculateBill computes the invoice for a cycle from the ledger and
// the cycle's snapshotted plan. A cycle belonging to another subject
// is reported as not found. Idempotent: the ledger is immutable for
// closed cycles, so recomputation yields the same bill.
func (b *Billing) CalculateBill(ctx context.Context, subject, cycleID string) (billing.Bill, error) {
	c, err := b.cycles.Get(ctx, cycleID)
	if err != nil {
		return billing.Bill{}, err
	}
	if c.Subject != subject {
		return billing.Bill{}, ports.ErrNotFound
	}

	p, err := b.planByID(c.PlanID)
	if err != nil {
		return billing.Bill{}, err
	}
	s, err := b.ledger.Summarize(ctx, subject, c.Start, c.End)
	if err != nil {
		return billing.Bill{}, err
	}
	return billing.ComputeBill(c, p, s), nil
}

// RecordPayment records a completed payment against the subject's
// current cycle.
func (b *Billing) RecordPayment(ctx context.Context, subject string, amount decimal.Decimal, method string) (billing.Payment, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return billing.Payment{}, errors.New("payment amount must be positive")
	}
	c, err := b.CurrentCycle(ctx, subject)
	if err != nil {
		return billing.Payment{}, err
	}

	now := b.clock.Now()
	p := billing.Payment{
		ID:          b.idGen.New(),
		Subject:     subject,
		Amount:      amount,
		Currency:    "USD",
		Method:      method,
		Status:      billing.PaymentCompleted,
		CycleID:     c.ID,
		CreatedAt:   now,
		ProcessedAt: &now,
	}
	if err := b.payments.Create(ctx, p); err != nil {
		return billing.Payment{}, err
	}
	b.log.Info().Str("subject", subject).Str("payment", p.ID).
		Str("amount", amount.String()).Msg("payment recorded")
	return p, nil
}

// PaymentHistory returns the subject's payments, newest first.
func (b *Billing) PaymentHistory(ctx context.Context, subject string, limit int) ([]billing.Payment, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return b.payments.ListBySubject(ctx, subject, limit)
}

// UpgradePlan validates the new tier and switches the subject to it,
// effective immediately for future checks. The active cycle keeps its
// snapshotted plan until it closes. An unknown tier leaves the stored
// plan untouched.
func (b *Billing) UpgradePlan(ctx context.Context, subject, newPlanID string) (ports.Subject, error) {
	if _, err := b.planByID(newPlanID); err != nil {
		return ports.Subject{}, err
	}
	if err := b.subjects.SetPlan(ctx, subject, newPlanID, b.clock.Now()); err != nil {
		return ports.Subject{}, err
	}
	sub, err := b.subjects.Get(ctx, subject)
	if err != nil {
		return ports.Subject{}, err
	}
	b.log.Info().Str("subject", subject).Str("plan", newPlanID).Msg("plan changed")
	return sub, nil
}

// CloseElapsedCycles closes every active cycle whose period has ended,
// freezing totals recomputed from the ledger. Returns the number of
// cycles closed. Intended to run periodically from bootstrap or via
// the CLI.
func (b *Billing) CloseElapsedCycles(ctx context.Context, now time.Time) (int, error) {
	elapsed, err := b.cycles.ListElapsedActive(ctx, now)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, c := range elapsed {
		s, err := b.ledger.Summarize(ctx, c.Subject, c.Start, c.End)
		if err != nil {
			return closed, err
		}
		if err := b.cycles.UpdateTotals(ctx, c.ID, s.TotalCalls, s.TotalCost); err != nil {
			return closed, err
		}
		if err := b.cycles.Close(ctx, c.ID); err != nil {
			return closed, err
		}
		closed++
		b.onCycleClosed()
		b.log.Info().Str("subject", c.Subject).Str("cycle", c.ID).
			Int64("calls", s.TotalCalls).Str("cost", s.TotalCost.String()).
			Msg("billing cycle closed")
	}
	return closed, nil
}
