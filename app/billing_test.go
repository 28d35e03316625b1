package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/artpar/usagegate/adapters/clock"
	"github.com/artpar/usagegate/adapters/idgen"
	"github.com/artpar/usagegate/adapters/memory"
	"github.com/artpar/usagegate/app"
	"github.com/artpar/usagegate/domain/billing"
	"github.com/artpar/usagegate/domain/usage"
	"github.com/artpar/usagegate/ports"
)

type billingFixture struct {
	billing  *app.Billing
	ledger   *memory.LedgerStore
	cycles   *memory.CycleStore
	subjects *memory.SubjectStore
	clk      *clock.Fake
}

func newBillingFixture(t *testing.T, now time.Time) *billingFixture {
	t.Helper()
	f := &billingFixture{
		ledger:   memory.NewLedgerStore(),
		cycles:   memory.NewCycleStore(),
		subjects: memory.NewSubjectStore(),
		clk:      clock.NewFake(now),
	}
	f.billing = app.NewBilling(app.BillingDeps{
		Ledger:   f.ledger,
		Cycles:   f.cycles,
		Payments: memory.NewPaymentStore(),
		Subjects: f.subjects,
		Clock:    f.clk,
		IDGen:    idgen.NewSequential("id"),
		Logger:   zerolog.Nop(),
	}, app.BillingConfig{})
	return f
}

func (f *billingFixture) addSubject(t *testing.T, id, planID string) {
	t.Helper()
	now := f.clk.Now()
	err := f.subjects.Create(context.Background(), ports.Subject{
		ID: id, PlanID: planID, Status: "active", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create subject: %v", err)
	}
}

func TestBilling_TrackUsageCosts(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newBillingFixture(t, now)
	f.addSubject(t, "sub-1", "starter")
	ctx := context.Background()

	// starter per-call 0.01 + growth_advisory 0.02 = 0.03 per call.
	ev, err := f.billing.TrackUsage(ctx, "sub-1", "growth_advisory", 2)
	if err != nil {
		t.Fatalf("track usage: %v", err)
	}
	if want := decimal.RequireFromString("0.03"); !ev.UnitCost.Equal(want) {
		t.Errorf("UnitCost = %s, want %s", ev.UnitCost, want)
	}
	if want := decimal.RequireFromString("0.06"); !ev.TotalCost.Equal(want) {
		t.Errorf("TotalCost = %s, want %s", ev.TotalCost, want)
	}

	// Unknown capability falls back to the default module price.
	ev, err = f.billing.TrackUsage(ctx, "sub-1", "something_new", 1)
	if err != nil {
		t.Fatalf("track usage: %v", err)
	}
	if want := decimal.RequireFromString("0.02"); !ev.UnitCost.Equal(want) {
		t.Errorf("UnitCost = %s, want %s (0.01 plan + 0.01 default)", ev.UnitCost, want)
	}
}

func TestBilling_TrackUsageValidation(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newBillingFixture(t, now)
	f.addSubject(t, "sub-1", "starter")
	ctx := context.Background()

	if _, err := f.billing.TrackUsage(ctx, "ghost", "cap", 1); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("unknown subject err = %v, want ErrNotFound", err)
	}
	if _, err := f.billing.TrackUsage(ctx, "sub-1", "cap", 0); err == nil {
		t.Error("zero quantity accepted, want error")
	}
	if _, err := f.billing.TrackUsage(ctx, "sub-1", "", 1); err == nil {
		t.Error("empty capability accepted, want error")
	}
}

func TestBilling_TrackUsagePropagatesLedgerFailure(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	subjects := memory.NewSubjectStore()
	if err := subjects.Create(context.Background(), ports.Subject{
		ID: "sub-1", PlanID: "free", Status: "active", CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create subject: %v", err)
	}

	b := app.NewBilling(app.BillingDeps{
		Ledger:   failingLedger{},
		Cycles:   memory.NewCycleStore(),
		Payments: memory.NewPaymentStore(),
		Subjects: subjects,
		Clock:    clock.NewFake(now),
		IDGen:    idgen.NewSequential("id"),
		Logger:   zerolog.Nop(),
	}, app.BillingConfig{})

	if _, err := b.TrackUsage(context.Background(), "sub-1", "cap", 1); !errors.Is(err, ports.ErrLedgerWrite) {
		t.Errorf("err = %v, want ErrLedgerWrite", err)
	}
}

func TestBilling_UsageSummaryDefaultsToCurrentPeriod(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newBillingFixture(t, now)
	f.addSubject(t, "sub-1", "starter")
	ctx := context.Background()

	if _, err := f.billing.TrackUsage(ctx, "sub-1", "growth_advisory", 3); err != nil {
		t.Fatalf("track usage: %v", err)
	}

	// An event in February stays out of March's summary.
	f.clk.Set(time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC))
	if _, err := f.billing.TrackUsage(ctx, "sub-1", "growth_advisory", 1); err != nil {
		t.Fatalf("track usage: %v", err)
	}
	f.clk.Set(now)

	report, err := f.billing.UsageSummary(ctx, "sub-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("usage summary: %v", err)
	}
	if report.TotalCalls != 3 {
		t.Errorf("TotalCalls = %d, want 3", report.TotalCalls)
	}
	if report.MonthlyCalls != 1000 {
		t.Errorf("MonthlyCalls = %d, want 1000", report.MonthlyCalls)
	}
	if report.RemainingCalls != 997 {
		t.Errorf("RemainingCalls = %d, want 997", report.RemainingCalls)
	}
	if len(report.ByCapability) != 1 || report.ByCapability[0].Capability != "growth_advisory" {
		t.Errorf("ByCapability = %+v, want growth_advisory only", report.ByCapability)
	}
}

func TestBilling_UsageSummaryOneSidedRange(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newBillingFixture(t, now)
	f.addSubject(t, "sub-1", "starter")
	ctx := context.Background()

	f.clk.Set(time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC))
	if _, err := f.billing.TrackUsage(ctx, "sub-1", "growth_advisory", 2); err != nil {
		t.Fatalf("track usage: %v", err)
	}
	f.clk.Set(now)
	if _, err := f.billing.TrackUsage(ctx, "sub-1", "growth_advisory", 3); err != nil {
		t.Fatalf("track usage: %v", err)
	}

	// Only start given: end defaults to the period end, keeping the
	// March 10 event in scope and the March 2 event out.
	start := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	report, err := f.billing.UsageSummary(ctx, "sub-1", start, time.Time{})
	if err != nil {
		t.Fatalf("usage summary: %v", err)
	}
	if report.TotalCalls != 3 {
		t.Errorf("start-only TotalCalls = %d, want 3", report.TotalCalls)
	}

	// Only end given: start defaults to the period start.
	end := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	report, err = f.billing.UsageSummary(ctx, "sub-1", time.Time{}, end)
	if err != nil {
		t.Fatalf("usage summary: %v", err)
	}
	if report.TotalCalls != 2 {
		t.Errorf("end-only TotalCalls = %d, want 2", report.TotalCalls)
	}

	if _, err := f.billing.UsageSummary(ctx, "sub-1", now, now.Add(-time.Hour)); !errors.Is(err, app.ErrInvalidRange) {
		t.Errorf("inverted range err = %v, want ErrInvalidRange", err)
	}
}

func TestBilling_CurrentCycleFindOrCreate(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newBillingFixture(t, now)
	f.addSubject(t, "sub-1", "professional")
	ctx := context.Background()

	c, err := f.billing.CurrentCycle(ctx, "sub-1")
	if err != nil {
		t.Fatalf("current cycle: %v", err)
	}
	if c.PlanID != "professional" {
		t.Errorf("PlanID = %s, want professional (snapshot)", c.PlanID)
	}
	wantStart := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if !c.Start.Equal(wantStart) {
		t.Errorf("Start = %v, want %v", c.Start, wantStart)
	}
	wantEnd := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)
	if !c.End.Equal(wantEnd) {
		t.Errorf("End = %v, want %v", c.End, wantEnd)
	}

	again, err := f.billing.CurrentCycle(ctx, "sub-1")
	if err != nil {
		t.Fatalf("current cycle: %v", err)
	}
	if again.ID != c.ID {
		t.Errorf("second call ID = %s, want %s (find, not create)", again.ID, c.ID)
	}

	if _, err := f.billing.CurrentCycle(ctx, "ghost"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("unknown subject err = %v, want ErrNotFound", err)
	}
}

func TestBilling_CycleKeepsPlanSnapshotAcrossUpgrade(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newBillingFixture(t, now)
	f.addSubject(t, "sub-1", "starter")
	ctx := context.Background()

	c, err := f.billing.CurrentCycle(ctx, "sub-1")
	if err != nil {
		t.Fatalf("current cycle: %v", err)
	}

	if _, err := f.billing.UpgradePlan(ctx, "sub-1", "enterprise"); err != nil {
		t.Fatalf("upgrade plan: %v", err)
	}

	got, err := f.billing.CurrentCycle(ctx, "sub-1")
	if err != nil {
		t.Fatalf("current cycle: %v", err)
	}
	if got.ID != c.ID || got.PlanID != "starter" {
		t.Errorf("cycle after upgrade = %s/%s, want %s/starter (snapshot holds)", got.ID, got.PlanID, c.ID)
	}

	// The next month's cycle picks up the new plan.
	f.clk.Set(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC))
	next, err := f.billing.CurrentCycle(ctx, "sub-1")
	if err != nil {
		t.Fatalf("current cycle: %v", err)
	}
	if next.PlanID != "enterprise" {
		t.Errorf("next cycle PlanID = %s, want enterprise", next.PlanID)
	}
}

func TestBilling_CalculateBill(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newBillingFixture(t, now)
	f.addSubject(t, "sub-1", "starter")
	ctx := context.Background()

	// Two growth_advisory calls at 0.01 + 0.02 = 0.03 each, plus the
	// 9.99 monthly fee: 10.05.
	for i := 0; i < 2; i++ {
		if _, err := f.billing.TrackUsage(ctx, "sub-1", "growth_advisory", 1); err != nil {
			t.Fatalf("track usage: %v", err)
		}
	}
	c, err := f.billing.CurrentCycle(ctx, "sub-1")
	if err != nil {
		t.Fatalf("current cycle: %v", err)
	}

	bill, err := f.billing.CalculateBill(ctx, "sub-1", c.ID)
	if err != nil {
		t.Fatalf("calculate bill: %v", err)
	}
	if want := decimal.RequireFromString("9.99"); !bill.MonthlyFee.Equal(want) {
		t.Errorf("MonthlyFee = %s, want %s", bill.MonthlyFee, want)
	}
	if want := decimal.RequireFromString("0.06"); !bill.UsageCost.Equal(want) {
		t.Errorf("UsageCost = %s, want %s", bill.UsageCost, want)
	}
	if want := decimal.RequireFromString("10.05"); !bill.Total.Equal(want) {
		t.Errorf("Total = %s, want %s", bill.Total, want)
	}
	if bill.TotalCalls != 2 {
		t.Errorf("TotalCalls = %d, want 2", bill.TotalCalls)
	}

	// Same inputs, same bill.
	bill2, err := f.billing.CalculateBill(ctx, "sub-1", c.ID)
	if err != nil {
		t.Fatalf("calculate bill: %v", err)
	}
	if !bill2.Total.Equal(bill.Total) || bill2.TotalCalls != bill.TotalCalls {
		t.Errorf("recomputed bill differs: %+v vs %+v", bill2, bill)
	}
}

func TestBilling_CalculateBillWrongSubject(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newBillingFixture(t, now)
	f.addSubject(t, "sub-1", "free")
	f.addSubject(t, "sub-2", "free")
	ctx := context.Background()

	c, err := f.billing.CurrentCycle(ctx, "sub-1")
	if err != nil {
		t.Fatalf("current cycle: %v", err)
	}

	if _, err := f.billing.CalculateBill(ctx, "sub-2", c.ID); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound (cycle belongs to sub-1)", err)
	}
	if _, err := f.billing.CalculateBill(ctx, "sub-1", "missing"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBilling_UpgradePlan(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newBillingFixture(t, now)
	f.addSubject(t, "sub-1", "free")
	ctx := context.Background()

	sub, err := f.billing.UpgradePlan(ctx, "sub-1", "starter")
	if err != nil {
		t.Fatalf("upgrade plan: %v", err)
	}
	if sub.PlanID != "starter" {
		t.Errorf("PlanID = %s, want starter", sub.PlanID)
	}

	// Invalid tier leaves the stored plan untouched.
	if _, err := f.billing.UpgradePlan(ctx, "sub-1", "platinum"); !errors.Is(err, app.ErrInvalidPlan) {
		t.Errorf("err = %v, want ErrInvalidPlan", err)
	}
	got, err := f.subjects.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get subject: %v", err)
	}
	if got.PlanID != "starter" {
		t.Errorf("PlanID after failed upgrade = %s, want starter", got.PlanID)
	}
}

func TestBilling_RecordPaymentAndHistory(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newBillingFixture(t, now)
	f.addSubject(t, "sub-1", "starter")
	ctx := context.Background()

	p, err := f.billing.RecordPayment(ctx, "sub-1", decimal.RequireFromString("9.99"), "card")
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if p.Status != billing.PaymentCompleted {
		t.Errorf("Status = %s, want completed", p.Status)
	}
	if p.ProcessedAt == nil {
		t.Error("ProcessedAt = nil, want set")
	}
	if p.CycleID == "" {
		t.Error("CycleID empty, want bound to current cycle")
	}

	if _, err := f.billing.RecordPayment(ctx, "sub-1", decimal.Zero, "card"); err == nil {
		t.Error("zero amount accepted, want error")
	}

	history, err := f.billing.PaymentHistory(ctx, "sub-1", 10)
	if err != nil {
		t.Fatalf("payment history: %v", err)
	}
	if len(history) != 1 || history[0].ID != p.ID {
		t.Errorf("history = %+v, want the one payment", history)
	}
}

func TestBilling_CloseElapsedCycles(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := newBillingFixture(t, now)
	f.addSubject(t, "sub-1", "starter")
	ctx := context.Background()

	if _, err := f.billing.TrackUsage(ctx, "sub-1", "growth_advisory", 4); err != nil {
		t.Fatalf("track usage: %v", err)
	}
	c, err := f.billing.CurrentCycle(ctx, "sub-1")
	if err != nil {
		t.Fatalf("current cycle: %v", err)
	}

	// Nothing has elapsed yet.
	closed, err := f.billing.CloseElapsedCycles(ctx, now)
	if err != nil {
		t.Fatalf("close elapsed: %v", err)
	}
	if closed != 0 {
		t.Errorf("closed = %d, want 0", closed)
	}

	april := time.Date(2025, 4, 1, 0, 0, 1, 0, time.UTC)
	closed, err = f.billing.CloseElapsedCycles(ctx, april)
	if err != nil {
		t.Fatalf("close elapsed: %v", err)
	}
	if closed != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}

	got, err := f.cycles.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get cycle: %v", err)
	}
	if got.Status != billing.CycleClosed {
		t.Errorf("Status = %s, want closed", got.Status)
	}
	if got.TotalCalls != 4 {
		t.Errorf("TotalCalls = %d, want 4 (frozen from ledger)", got.TotalCalls)
	}
	if want := decimal.RequireFromString("0.12"); !got.TotalCost.Equal(want) {
		t.Errorf("TotalCost = %s, want %s", got.TotalCost, want)
	}

	// Idempotent: a second run finds nothing to close.
	closed, err = f.billing.CloseElapsedCycles(ctx, april)
	if err != nil {
		t.Fatalf("close elapsed: %v", err)
	}
	if closed != 0 {
		t.Errorf("second run closed = %d, want 0", closed)
	}
}

// failingLedger simulates ledger write failures.
type failingLedger struct{}

var _ ports.LedgerStore = failingLedger{}

func (failingLedger) Append(context.Context, usage.Event) error {
	return ports.ErrLedgerWrite
}

func (failingLedger) Summarize(context.Context, string, time.Time, time.Time) (usage.Summary, error) {
	return usage.Summary{}, ports.ErrStoreUnavailable
}

func (failingLedger) Recent(context.Context, string, int) ([]usage.Event, error) {
	return nil, ports.ErrStoreUnavailable
}
