package usage

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Aggregate combines events into a summary for a period.
// Events outside [periodStart, periodEnd] are skipped, so the same
// function serves both full-ledger and cycle-scoped rollups.
// This is a PURE function.
func Aggregate(events []Event, periodStart, periodEnd time.Time) Summary {
	summary := Summary{
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		TotalCost:   decimal.Zero,
	}

	byCap := make(map[string]*CapabilityUsage)

	for _, e := range events {
		if e.OccurredAt.Before(periodStart) || e.OccurredAt.After(periodEnd) {
			continue
		}
		if summary.Subject == "" {
			summary.Subject = e.Subject
		}

		summary.TotalCalls += e.Quantity
		summary.TotalCost = summary.TotalCost.Add(e.TotalCost)

		cu, ok := byCap[e.Capability]
		if !ok {
			cu = &CapabilityUsage{Capability: e.Capability, Cost: decimal.Zero}
			byCap[e.Capability] = cu
		}
		cu.Calls += e.Quantity
		cu.Cost = cu.Cost.Add(e.TotalCost)
	}

	for _, cu := range byCap {
		summary.ByCapability = append(summary.ByCapability, *cu)
	}
	sort.Slice(summary.ByCapability, func(i, j int) bool {
		return summary.ByCapability[i].Capability < summary.ByCapability[j].Capability
	})

	return summary
}

// PeriodBounds returns the calendar-month billing period containing t,
// in UTC. Start is the first instant of the month, end the last instant
// before the next month begins.
// This is a PURE function.
func PeriodBounds(t time.Time) (start, end time.Time) {
	u := t.UTC()
	start = time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return
}
