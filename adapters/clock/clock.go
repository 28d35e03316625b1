// Package clock supplies the time source behind rate-limit windows
// and billing periods.
package clock

import (
	"sync"
	"time"

	"github.com/artpar/usagegate/ports"
)

// Real reads the wall clock. All window and period math in this
// project is UTC-anchored, so Real normalizes up front.
type Real struct{}

var _ ports.Clock = Real{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a settable clock for tests. It only moves when told to, so
// a test can pin a window boundary or roll a billing period over
// deterministically.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

var _ ports.Clock = (*Fake)(nil)

// NewFake starts a fake clock frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set jumps the clock to t. Moving backwards is allowed; tests use it
// to interleave events across billing periods.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
