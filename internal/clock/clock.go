// Package clock abstracts wall-clock time so queue derivations and tests can
// share one notion of "now" and "today".
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	// Now is the current instant in UTC.
	Now() time.Time
	// Today is the current calendar date in site-local time, represented as
	// midnight UTC of that date.
	Today() time.Time
}

type systemClock struct {
	loc *time.Location
}

// NewSystem returns a Clock backed by the real wall clock. loc determines
// which calendar date counts as "today"; nil means UTC.
func NewSystem(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &systemClock{loc: loc}
}

func (c *systemClock) Now() time.Time {
	return time.Now().UTC()
}

func (c *systemClock) Today() time.Time {
	return DateOf(time.Now().In(c.loc))
}

// DateOf truncates an instant to its calendar date, as midnight UTC.
func DateOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Today() time.Time {
	return DateOf(f.Now())
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
