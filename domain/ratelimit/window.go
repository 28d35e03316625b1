// Package ratelimit provides pure rate limiting algorithms over fixed
// time windows. All functions are deterministic - same input always
// produces same output.
package ratelimit

import (
	"fmt"
	"time"
)

// WindowType identifies the resolution of a rate limit window.
type WindowType string

const (
	WindowMinute WindowType = "minute"
	WindowHour   WindowType = "hour"
	WindowDay    WindowType = "day"
)

// WindowOrder lists window types finest first. Checks evaluate in this
// order so a minute limit fails fast before the hour and day limits are
// consulted.
var WindowOrder = []WindowType{WindowMinute, WindowHour, WindowDay}

// ParseWindowType validates a window type string.
func ParseWindowType(s string) (WindowType, error) {
	switch WindowType(s) {
	case WindowMinute, WindowHour, WindowDay:
		return WindowType(s), nil
	}
	return "", fmt.Errorf("invalid window type: %q", s)
}

// Duration returns the length of the window.
func (w WindowType) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	}
	return 0
}

// WindowStart truncates now to the start of the window containing it.
// Truncation is always done in UTC so window boundaries are unambiguous
// across DST transitions.
func WindowStart(w WindowType, now time.Time) time.Time {
	t := now.UTC()
	switch w {
	case WindowMinute:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	case WindowHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case WindowDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t
}

// WindowEnd returns the first instant after the window containing now.
// This is the moment the limit resets.
func WindowEnd(w WindowType, now time.Time) time.Time {
	return WindowStart(w, now).Add(w.Duration())
}

// Usage describes consumption within a single window (value type).
type Usage struct {
	Window    WindowType
	Current   int64
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Denial describes why a check was rejected (value type).
type Denial struct {
	Window  WindowType
	Limit   int64
	Current int64
	ResetAt time.Time
}

// Decision is the outcome of a rate limit check (value type).
// Denial is a normal result variant, never an error.
type Decision struct {
	Allowed bool
	Usage   []Usage // Per-window detail, finest window first
	Denied  *Denial
}

// Evaluate checks observed counts against per-window limits.
// This is a PURE function - no side effects, deterministic.
//
// Windows are evaluated finest first; the first window at or over its
// limit short-circuits the check. A limit <= 0 means the window is
// unmetered and always passes.
func Evaluate(counts map[WindowType]int64, limits map[WindowType]int64, now time.Time) Decision {
	usage := make([]Usage, 0, len(WindowOrder))

	for _, w := range WindowOrder {
		limit := limits[w]
		if limit <= 0 {
			continue
		}

		current := counts[w]
		remaining := limit - current
		if remaining < 0 {
			remaining = 0
		}

		if current >= limit {
			return Decision{
				Allowed: false,
				Usage:   usage,
				Denied: &Denial{
					Window:  w,
					Limit:   limit,
					Current: current,
					ResetAt: WindowEnd(w, now),
				},
			}
		}

		usage = append(usage, Usage{
			Window:    w,
			Current:   current,
			Limit:     limit,
			Remaining: remaining,
			ResetAt:   WindowEnd(w, now),
		})
	}

	return Decision{Allowed: true, Usage: usage}
}

// RetryAfter returns how long to wait before the denied window resets.
// This is a PURE function.
func RetryAfter(d Decision, now time.Time) time.Duration {
	if d.Allowed || d.Denied == nil {
		return 0
	}
	delay := d.Denied.ResetAt.Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}
