package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/adapters/clock"
	"github.com/artpar/usagegate/adapters/memory"
	"github.com/artpar/usagegate/app"
	"github.com/artpar/usagegate/domain/plan"
	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/ports"
)

func testPlans() []plan.Plan {
	plans := plan.Defaults()
	// A tight tier keeps the denial tests small.
	plans = append(plans, plan.Plan{
		ID:             "tiny",
		Name:           "Tiny",
		CallsPerMinute: 3,
		CallsPerHour:   5,
		CallsPerDay:    10,
		MonthlyCalls:   100,
	})
	return plans
}

func newTestLimiter(t *testing.T, clk ports.Clock) (*app.Limiter, *memory.CounterStore) {
	t.Helper()
	counters := memory.NewCounterStore(memory.CounterStoreConfig{})
	limiter := app.NewLimiter(app.LimiterDeps{
		Counters: counters,
		Clock:    clk,
		Logger:   zerolog.Nop(),
	}, app.LimiterConfig{Plans: testPlans()})
	return limiter, counters
}

func TestLimiter_CheckUnknownPlan(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC))
	limiter, _ := newTestLimiter(t, clk)

	if _, err := limiter.Check(context.Background(), "sub-1", "platinum"); !errors.Is(err, app.ErrInvalidPlan) {
		t.Errorf("err = %v, want ErrInvalidPlan", err)
	}
	if _, err := limiter.Record(context.Background(), "sub-1", "platinum"); !errors.Is(err, app.ErrInvalidPlan) {
		t.Errorf("err = %v, want ErrInvalidPlan", err)
	}
}

func TestLimiter_AllowsUnderLimit(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC))
	limiter, _ := newTestLimiter(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.CheckAndRecord(ctx, "sub-1", "tiny")
		if err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("call %d denied, want allowed", i+1)
		}
	}

	d, err := limiter.CheckAndRecord(ctx, "sub-1", "tiny")
	if err != nil {
		t.Fatalf("call 4: %v", err)
	}
	if d.Allowed {
		t.Fatal("call 4 allowed, want denied (minute limit is 3)")
	}
	if d.Denied == nil || d.Denied.Window != ratelimit.WindowMinute {
		t.Errorf("denied window = %+v, want minute", d.Denied)
	}
	if d.Denied.Limit != 3 {
		t.Errorf("denied limit = %d, want 3", d.Denied.Limit)
	}
}

func TestLimiter_DenialReportsResetTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 42, 0, time.UTC)
	clk := clock.NewFake(now)
	limiter, _ := newTestLimiter(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Record(ctx, "sub-1", "tiny"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	d, err := limiter.Check(ctx, "sub-1", "tiny")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatal("allowed, want denied")
	}
	wantReset := time.Date(2025, 3, 10, 14, 31, 0, 0, time.UTC)
	if !d.Denied.ResetAt.Equal(wantReset) {
		t.Errorf("ResetAt = %v, want %v", d.Denied.ResetAt, wantReset)
	}
	if got := ratelimit.RetryAfter(d, now); got != 18*time.Second {
		t.Errorf("RetryAfter = %v, want 18s", got)
	}
}

func TestLimiter_WindowRolloverReadmits(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 10, 14, 30, 50, 0, time.UTC))
	limiter, _ := newTestLimiter(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Record(ctx, "sub-1", "tiny"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	d, err := limiter.Check(ctx, "sub-1", "tiny")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatal("at minute limit, want denied")
	}

	// Crossing the minute boundary admits again; hour and day counts
	// carry over.
	clk.Advance(10 * time.Second)
	d, err = limiter.CheckAndRecord(ctx, "sub-1", "tiny")
	if err != nil {
		t.Fatalf("check and record: %v", err)
	}
	if !d.Allowed {
		t.Fatal("after rollover, want allowed")
	}
	for _, u := range d.Usage {
		if u.Window == ratelimit.WindowHour && u.Current != 3 {
			t.Errorf("hour count after rollover = %d, want 3 (carries over)", u.Current)
		}
	}
}

func TestLimiter_CoarserWindowDenies(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC))
	limiter, _ := newTestLimiter(t, clk)
	ctx := context.Background()

	// Hour limit is 5: burst 3 in one minute, roll over, 2 more.
	for i := 0; i < 3; i++ {
		if _, err := limiter.Record(ctx, "sub-1", "tiny"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	clk.Advance(time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := limiter.Record(ctx, "sub-1", "tiny"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	d, err := limiter.Check(ctx, "sub-1", "tiny")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed {
		t.Fatal("hour limit reached, want denied")
	}
	if d.Denied.Window != ratelimit.WindowHour {
		t.Errorf("denied window = %s, want hour", d.Denied.Window)
	}
}

func TestLimiter_RecordEnforcesUnderRace(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC))
	limiter, _ := newTestLimiter(t, clk)
	ctx := context.Background()

	// All workers pass Check concurrently before any Record lands;
	// the atomic increments still bound admissions to the limit.
	const workers = 20
	var wg sync.WaitGroup
	allowed := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Record(ctx, "sub-1", "tiny")
			if err != nil {
				allowed <- false
				return
			}
			allowed <- d.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	admitted := 0
	for ok := range allowed {
		if ok {
			admitted++
		}
	}
	if admitted != 3 {
		t.Errorf("admitted = %d, want exactly 3 (minute limit)", admitted)
	}
}

func TestLimiter_FailsClosedOnStoreError(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC))
	counters := &failingCounterStore{}
	limiter := app.NewLimiter(app.LimiterDeps{
		Counters: counters,
		Clock:    clk,
		Logger:   zerolog.Nop(),
	}, app.LimiterConfig{Plans: testPlans()})

	if _, err := limiter.CheckAndRecord(context.Background(), "sub-1", "tiny"); !errors.Is(err, ports.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable (must not fail open)", err)
	}
}

func TestLimiter_Reset(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC))
	limiter, _ := newTestLimiter(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Record(ctx, "sub-1", "tiny"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if d, _ := limiter.Check(ctx, "sub-1", "tiny"); d.Allowed {
		t.Fatal("at limit, want denied")
	}

	if err := limiter.Reset(ctx, "sub-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	d, err := limiter.Check(ctx, "sub-1", "tiny")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !d.Allowed {
		t.Fatal("after reset, want allowed")
	}
}

func TestLimiter_Stats(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC))
	limiter, _ := newTestLimiter(t, clk)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := limiter.Record(ctx, "sub-1", "tiny"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	stats, err := limiter.Stats(ctx, "sub-1", "tiny")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats.Windows) != 3 {
		t.Fatalf("windows = %d, want 3", len(stats.Windows))
	}
	minute := stats.Windows[0]
	if minute.Window != ratelimit.WindowMinute {
		t.Fatalf("windows[0] = %s, want minute", minute.Window)
	}
	if minute.Current != 2 || minute.Remaining != 1 {
		t.Errorf("minute = %d/%d remaining %d, want 2/3 remaining 1", minute.Current, minute.Limit, minute.Remaining)
	}
	wantPct := float64(2) / 3 * 100
	if minute.PercentUsed != wantPct {
		t.Errorf("PercentUsed = %v, want %v", minute.PercentUsed, wantPct)
	}
}

func TestLimiter_CacheNeverOverReports(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC))
	limiter, counters := newTestLimiter(t, clk)
	ctx := context.Background()

	// Prime the cache via Check, then write to the store behind the
	// limiter's back. The cached count may lag (under-report) but a
	// later Record reflects the durable truth.
	if _, err := limiter.Check(ctx, "sub-1", "tiny"); err != nil {
		t.Fatalf("check: %v", err)
	}
	start := ratelimit.WindowStart(ratelimit.WindowMinute, clk.Now())
	for i := 0; i < 3; i++ {
		if _, err := counters.Increment(ctx, "sub-1", ratelimit.WindowMinute, start, 1); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	d, err := limiter.Record(ctx, "sub-1", "tiny")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if d.Allowed {
		t.Error("record landed over the durable limit, want denied")
	}
}

func TestLimiter_SweepCache(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC))
	limiter, _ := newTestLimiter(t, clk)
	ctx := context.Background()

	if _, err := limiter.Record(ctx, "sub-1", "tiny"); err != nil {
		t.Fatalf("record: %v", err)
	}

	clk.Advance(25 * time.Hour) // everything rolled over
	if removed := limiter.SweepCache(); removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
}

// failingCounterStore simulates a durable store outage.
type failingCounterStore struct{}

var _ ports.CounterStore = (*failingCounterStore)(nil)

func (failingCounterStore) Increment(context.Context, string, ratelimit.WindowType, time.Time, int64) (int64, error) {
	return 0, ports.ErrStoreUnavailable
}

func (failingCounterStore) Count(context.Context, string, ratelimit.WindowType, time.Time) (int64, error) {
	return 0, ports.ErrStoreUnavailable
}

func (failingCounterStore) Reset(context.Context, string) error {
	return ports.ErrStoreUnavailable
}

func (failingCounterStore) Cleanup(context.Context, time.Time) (int64, error) {
	return 0, ports.ErrStoreUnavailable
}
