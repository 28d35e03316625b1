// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/domain/plan"
	"github.com/artpar/usagegate/domain/ratelimit"
	"github.com/artpar/usagegate/ports"
)

// Service-level sentinel errors.
var (
	// ErrInvalidPlan indicates an unknown plan tier. The caller's
	// request is rejected; nothing is counted or stored.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrInvalidKey indicates an API key that is malformed, unknown,
	// or revoked.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrInvalidRange indicates a time range whose end precedes its
	// start.
	ErrInvalidRange = errors.New("invalid time range")
)

// Limiter enforces per-plan rate limits over minute, hour, and day
// windows. Check is an advisory fast path over cached counts; the
// atomic store increment inside Record is the true enforcement point.
type Limiter struct {
	counters ports.CounterStore
	clock    ports.Clock
	log      zerolog.Logger
	cache    *windowCache

	onCacheHit  func()
	onCacheMiss func()

	// Hot-reloadable plan catalog.
	plans atomic.Pointer[[]plan.Plan]
}

// LimiterDeps contains dependencies for Limiter.
type LimiterDeps struct {
	Counters ports.CounterStore
	Clock    ports.Clock
	Logger   zerolog.Logger
}

// LimiterConfig contains configuration for Limiter.
type LimiterConfig struct {
	Plans       []plan.Plan
	CacheShards int

	// Optional observation hooks, called outside any lock.
	OnCacheHit  func()
	OnCacheMiss func()
}

// NewLimiter creates a new rate limiter service.
func NewLimiter(deps LimiterDeps, cfg LimiterConfig) *Limiter {
	l := &Limiter{
		counters:    deps.Counters,
		clock:       deps.Clock,
		log:         deps.Logger,
		cache:       newWindowCache(cfg.CacheShards),
		onCacheHit:  cfg.OnCacheHit,
		onCacheMiss: cfg.OnCacheMiss,
	}
	if l.onCacheHit == nil {
		l.onCacheHit = func() {}
	}
	if l.onCacheMiss == nil {
		l.onCacheMiss = func() {}
	}
	l.UpdatePlans(cfg.Plans)
	return l
}

// UpdatePlans replaces the plan catalog. Thread-safe; takes effect for
// subsequent checks.
func (l *Limiter) UpdatePlans(plans []plan.Plan) {
	if len(plans) == 0 {
		plans = plan.Defaults()
	}
	l.plans.Store(&plans)
}

func (l *Limiter) planByID(id string) (plan.Plan, error) {
	p, ok := plan.Find(*l.plans.Load(), id)
	if !ok {
		return plan.Plan{}, ErrInvalidPlan
	}
	return p, nil
}

// Check evaluates the subject's current counts against the plan's
// limits without consuming a call. Cached counts are used when their
// window tag is current; otherwise the store is read and the cache
// refilled. Denial is a result, not an error.
func (l *Limiter) Check(ctx context.Context, subject, planID string) (ratelimit.Decision, error) {
	p, err := l.planByID(planID)
	if err != nil {
		return ratelimit.Decision{}, err
	}

	now := l.clock.Now()
	counts, err := l.currentCounts(ctx, subject, now)
	if err != nil {
		return ratelimit.Decision{}, err
	}

	return ratelimit.Evaluate(counts, p.WindowLimits(), now), nil
}

// Record consumes one call: every window counter is incremented
// atomically in the durable store, and the decision reflects the
// counts the increments landed on. If this call landed over a limit
// the decision is a denial even though the counters kept it, so
// concurrent callers racing past Check are still bounded.
func (l *Limiter) Record(ctx context.Context, subject, planID string) (ratelimit.Decision, error) {
	p, err := l.planByID(planID)
	if err != nil {
		return ratelimit.Decision{}, err
	}

	now := l.clock.Now()
	prior := make(map[ratelimit.WindowType]int64, len(ratelimit.WindowOrder))
	for _, w := range ratelimit.WindowOrder {
		start := ratelimit.WindowStart(w, now)
		count, err := l.counters.Increment(ctx, subject, w, start, 1)
		if err != nil {
			l.log.Error().Err(err).Str("subject", subject).Str("window", string(w)).
				Msg("counter increment failed")
			return ratelimit.Decision{}, err
		}
		prior[w] = count - 1
		l.cache.set(subject, w, start, count, now)
	}

	decision := ratelimit.Evaluate(prior, p.WindowLimits(), now)
	if !decision.Allowed {
		l.log.Debug().Str("subject", subject).Str("plan", planID).
			Str("window", string(decision.Denied.Window)).
			Int64("limit", decision.Denied.Limit).
			Msg("rate limit exceeded")
	}
	return decision, nil
}

// CheckAndRecord is the request path: a cheap advisory check, then the
// enforcing increment. A store outage fails closed.
func (l *Limiter) CheckAndRecord(ctx context.Context, subject, planID string) (ratelimit.Decision, error) {
	decision, err := l.Check(ctx, subject, planID)
	if err != nil {
		return ratelimit.Decision{}, err
	}
	if !decision.Allowed {
		return decision, nil
	}
	return l.Record(ctx, subject, planID)
}

// Reset clears all counters and cached counts for a subject
// (administrative override).
func (l *Limiter) Reset(ctx context.Context, subject string) error {
	if err := l.counters.Reset(ctx, subject); err != nil {
		return err
	}
	l.cache.invalidate(subject)
	l.log.Info().Str("subject", subject).Msg("rate limit counters reset")
	return nil
}

// WindowStat describes consumption of one window for reporting.
type WindowStat struct {
	Window      ratelimit.WindowType `json:"window"`
	Current     int64                `json:"current"`
	Limit       int64                `json:"limit"`
	Remaining   int64                `json:"remaining"`
	PercentUsed float64              `json:"percent_used"`
	ResetAt     time.Time            `json:"reset_at"`
}

// Stats is a point-in-time view of a subject's window consumption.
type Stats struct {
	Subject string       `json:"subject"`
	PlanID  string       `json:"plan_id"`
	At      time.Time    `json:"at"`
	Windows []WindowStat `json:"windows"`
}

// Stats reports per-window usage, always from the durable store.
func (l *Limiter) Stats(ctx context.Context, subject, planID string) (Stats, error) {
	p, err := l.planByID(planID)
	if err != nil {
		return Stats{}, err
	}

	now := l.clock.Now()
	stats := Stats{Subject: subject, PlanID: planID, At: now}
	for _, w := range ratelimit.WindowOrder {
		start := ratelimit.WindowStart(w, now)
		count, err := l.counters.Count(ctx, subject, w, start)
		if err != nil {
			return Stats{}, err
		}

		limit := p.WindowLimit(w)
		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		var pct float64
		if limit > 0 {
			pct = float64(count) / float64(limit) * 100
		}
		stats.Windows = append(stats.Windows, WindowStat{
			Window:      w,
			Current:     count,
			Limit:       limit,
			Remaining:   remaining,
			PercentUsed: pct,
			ResetAt:     ratelimit.WindowEnd(w, now),
		})
	}
	return stats, nil
}

// SweepCache evicts rolled-over cache entries. Intended to run
// periodically from bootstrap.
func (l *Limiter) SweepCache() int {
	return l.cache.sweep(l.clock.Now())
}

func (l *Limiter) currentCounts(ctx context.Context, subject string, now time.Time) (map[ratelimit.WindowType]int64, error) {
	counts := make(map[ratelimit.WindowType]int64, len(ratelimit.WindowOrder))
	for _, w := range ratelimit.WindowOrder {
		start := ratelimit.WindowStart(w, now)
		if count, ok := l.cache.get(subject, w, start); ok {
			l.onCacheHit()
			counts[w] = count
			continue
		}
		l.onCacheMiss()

		count, err := l.counters.Count(ctx, subject, w, start)
		if err != nil {
			return nil, err
		}
		counts[w] = count
		l.cache.set(subject, w, start, count, now)
	}
	return counts, nil
}
