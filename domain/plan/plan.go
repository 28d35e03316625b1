// Package plan provides pricing tier value types and pure functions.
package plan

import (
	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/shopspring/decimal"
)

// Plan represents a pricing tier (immutable value type).
// Plans are configuration constants; they are not created or destroyed
// at runtime.
type Plan struct {
	ID             string
	Name           string
	CallsPerMinute int64
	CallsPerHour   int64
	CallsPerDay    int64
	MonthlyCalls   int64           // Included calls per billing cycle
	PricePerCall   decimal.Decimal // Base price charged per metered call
	MonthlyFee     decimal.Decimal
}

// WindowLimit returns the call limit for a window type.
// This is a PURE function.
func (p Plan) WindowLimit(w ratelimit.WindowType) int64 {
	switch w {
	case ratelimit.WindowMinute:
		return p.CallsPerMinute
	case ratelimit.WindowHour:
		return p.CallsPerHour
	case ratelimit.WindowDay:
		return p.CallsPerDay
	}
	return 0
}

// WindowLimits returns all per-window limits keyed by window type.
// This is a PURE function.
func (p Plan) WindowLimits() map[ratelimit.WindowType]int64 {
	return map[ratelimit.WindowType]int64{
		ratelimit.WindowMinute: p.CallsPerMinute,
		ratelimit.WindowHour:   p.CallsPerHour,
		ratelimit.WindowDay:    p.CallsPerDay,
	}
}

// Find finds a plan by ID in a list.
// This is a PURE function.
func Find(plans []Plan, id string) (Plan, bool) {
	for _, p := range plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// Defaults returns the built-in pricing tiers.
func Defaults() []Plan {
	return []Plan{
		{
			ID:             "free",
			Name:           "Free",
			CallsPerMinute: 10,
			CallsPerHour:   100,
			CallsPerDay:    1000,
			MonthlyCalls:   100,
			PricePerCall:   decimal.Zero,
			MonthlyFee:     decimal.Zero,
		},
		{
			ID:             "starter",
			Name:           "Starter",
			CallsPerMinute: 60,
			CallsPerHour:   1000,
			CallsPerDay:    10000,
			MonthlyCalls:   1000,
			PricePerCall:   decimal.NewFromFloat(0.01),
			MonthlyFee:     decimal.NewFromFloat(9.99),
		},
		{
			ID:             "professional",
			Name:           "Professional",
			CallsPerMinute: 300,
			CallsPerHour:   10000,
			CallsPerDay:    100000,
			MonthlyCalls:   10000,
			PricePerCall:   decimal.NewFromFloat(0.005),
			MonthlyFee:     decimal.NewFromFloat(49.99),
		},
		{
			ID:             "enterprise",
			Name:           "Enterprise",
			CallsPerMinute: 1000,
			CallsPerHour:   50000,
			CallsPerDay:    1000000,
			MonthlyCalls:   100000,
			PricePerCall:   decimal.NewFromFloat(0.002),
			MonthlyFee:     decimal.NewFromFloat(199.99),
		},
	}
}
