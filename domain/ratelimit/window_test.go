package ratelimit_test

import (
	"testing"
	"time"

	"github.com/artpar/usagegate/domain/ratelimit"
)

func TestWindowStart_Truncation(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 37, 42, 123456789, time.UTC)

	tests := []struct {
		window ratelimit.WindowType
		want   time.Time
	}{
		{ratelimit.WindowMinute, time.Date(2024, 3, 15, 14, 37, 0, 0, time.UTC)},
		{ratelimit.WindowHour, time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)},
		{ratelimit.WindowDay, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got := ratelimit.WindowStart(tt.window, now)
		if !got.Equal(tt.want) {
			t.Errorf("WindowStart(%s) = %v, want %v", tt.window, got, tt.want)
		}
	}
}

func TestWindowStart_Deterministic(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 37, 42, 0, time.UTC)

	for _, w := range ratelimit.WindowOrder {
		a := ratelimit.WindowStart(w, now)
		b := ratelimit.WindowStart(w, now)
		if !a.Equal(b) {
			t.Errorf("WindowStart(%s) not deterministic: %v != %v", w, a, b)
		}
	}
}

func TestWindowStart_NonUTCInput(t *testing.T) {
	// 2024-03-15 14:37 UTC expressed in a +05:30 zone
	loc := time.FixedZone("IST", 5*3600+1800)
	local := time.Date(2024, 3, 15, 20, 7, 42, 0, loc)

	got := ratelimit.WindowStart(ratelimit.WindowHour, local)
	want := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("WindowStart(hour, +05:30) = %v, want %v", got, want)
	}
}

func TestWindowEnd(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 37, 42, 0, time.UTC)

	tests := []struct {
		window ratelimit.WindowType
		want   time.Time
	}{
		{ratelimit.WindowMinute, time.Date(2024, 3, 15, 14, 38, 0, 0, time.UTC)},
		{ratelimit.WindowHour, time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC)},
		{ratelimit.WindowDay, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got := ratelimit.WindowEnd(tt.window, now)
		if !got.Equal(tt.want) {
			t.Errorf("WindowEnd(%s) = %v, want %v", tt.window, got, tt.want)
		}
	}
}

func TestParseWindowType(t *testing.T) {
	for _, s := range []string{"minute", "hour", "day"} {
		if _, err := ratelimit.ParseWindowType(s); err != nil {
			t.Errorf("ParseWindowType(%q) error: %v", s, err)
		}
	}

	if _, err := ratelimit.ParseWindowType("week"); err == nil {
		t.Error("ParseWindowType(week) expected error, got nil")
	}
	if _, err := ratelimit.ParseWindowType(""); err == nil {
		t.Error("ParseWindowType(\"\") expected error, got nil")
	}
}

var testLimits = map[ratelimit.WindowType]int64{
	ratelimit.WindowMinute: 10,
	ratelimit.WindowHour:   100,
	ratelimit.WindowDay:    1000,
}

func TestEvaluate_Allowed(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 37, 42, 0, time.UTC)
	counts := map[ratelimit.WindowType]int64{
		ratelimit.WindowMinute: 3,
		ratelimit.WindowHour:   50,
		ratelimit.WindowDay:    200,
	}

	d := ratelimit.Evaluate(counts, testLimits, now)

	if !d.Allowed {
		t.Fatalf("Allowed = false, want true (denied: %+v)", d.Denied)
	}
	if len(d.Usage) != 3 {
		t.Fatalf("len(Usage) = %d, want 3", len(d.Usage))
	}
	if d.Usage[0].Window != ratelimit.WindowMinute {
		t.Errorf("Usage[0].Window = %s, want minute", d.Usage[0].Window)
	}
	if d.Usage[0].Remaining != 7 {
		t.Errorf("minute Remaining = %d, want 7", d.Usage[0].Remaining)
	}
	if !d.Usage[0].ResetAt.Equal(time.Date(2024, 3, 15, 14, 38, 0, 0, time.UTC)) {
		t.Errorf("minute ResetAt = %v", d.Usage[0].ResetAt)
	}
}

func TestEvaluate_DeniedAtLimit(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 37, 42, 0, time.UTC)
	counts := map[ratelimit.WindowType]int64{
		ratelimit.WindowMinute: 10,
	}

	d := ratelimit.Evaluate(counts, testLimits, now)

	if d.Allowed {
		t.Fatal("Allowed = true, want false")
	}
	if d.Denied == nil {
		t.Fatal("Denied = nil")
	}
	if d.Denied.Window != ratelimit.WindowMinute {
		t.Errorf("Denied.Window = %s, want minute", d.Denied.Window)
	}
	if d.Denied.Limit != 10 || d.Denied.Current != 10 {
		t.Errorf("Denied = %+v, want limit 10 current 10", d.Denied)
	}
	want := time.Date(2024, 3, 15, 14, 38, 0, 0, time.UTC)
	if !d.Denied.ResetAt.Equal(want) {
		t.Errorf("Denied.ResetAt = %v, want %v", d.Denied.ResetAt, want)
	}
}

func TestEvaluate_ShortCircuitsFinestWindow(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 37, 42, 0, time.UTC)

	// Both minute and day are exhausted; minute must win.
	counts := map[ratelimit.WindowType]int64{
		ratelimit.WindowMinute: 10,
		ratelimit.WindowDay:    1000,
	}

	d := ratelimit.Evaluate(counts, testLimits, now)
	if d.Allowed {
		t.Fatal("Allowed = true, want false")
	}
	if d.Denied.Window != ratelimit.WindowMinute {
		t.Errorf("Denied.Window = %s, want minute (finest first)", d.Denied.Window)
	}
}

func TestEvaluate_CoarserWindowDenies(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 37, 42, 0, time.UTC)
	counts := map[ratelimit.WindowType]int64{
		ratelimit.WindowMinute: 2,
		ratelimit.WindowHour:   100,
	}

	d := ratelimit.Evaluate(counts, testLimits, now)
	if d.Allowed {
		t.Fatal("Allowed = true, want false")
	}
	if d.Denied.Window != ratelimit.WindowHour {
		t.Errorf("Denied.Window = %s, want hour", d.Denied.Window)
	}
	// Minute usage was collected before the hour denial.
	if len(d.Usage) != 1 || d.Usage[0].Window != ratelimit.WindowMinute {
		t.Errorf("Usage = %+v, want only minute detail", d.Usage)
	}
}

func TestEvaluate_ZeroLimitUnmetered(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 37, 42, 0, time.UTC)
	limits := map[ratelimit.WindowType]int64{
		ratelimit.WindowMinute: 0,
		ratelimit.WindowHour:   0,
		ratelimit.WindowDay:    0,
	}
	counts := map[ratelimit.WindowType]int64{
		ratelimit.WindowMinute: 999999,
	}

	d := ratelimit.Evaluate(counts, limits, now)
	if !d.Allowed {
		t.Error("Allowed = false, want true for unmetered limits")
	}
	if len(d.Usage) != 0 {
		t.Errorf("len(Usage) = %d, want 0", len(d.Usage))
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 37, 42, 0, time.UTC)
	counts := map[ratelimit.WindowType]int64{ratelimit.WindowMinute: 10}

	d := ratelimit.Evaluate(counts, testLimits, now)
	got := ratelimit.RetryAfter(d, now)
	if got != 18*time.Second {
		t.Errorf("RetryAfter = %v, want 18s", got)
	}

	allowed := ratelimit.Evaluate(nil, testLimits, now)
	if ratelimit.RetryAfter(allowed, now) != 0 {
		t.Error("RetryAfter for allowed decision should be 0")
	}
}

func TestWindowRollover(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 37, 59, 0, time.UTC)
	later := now.Add(61 * time.Second)

	a := ratelimit.WindowStart(ratelimit.WindowMinute, now)
	b := ratelimit.WindowStart(ratelimit.WindowMinute, later)
	if a.Equal(b) {
		t.Errorf("window did not roll over: %v == %v", a, b)
	}
}
