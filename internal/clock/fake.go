package clock

import "time"

// FakeClock is a manually stepped Clock for settlement tests: execution
// dates, booking timestamps and journal events compare against an exact
// instant instead of time.Now.
type FakeClock struct {
	current time.Time
}

// NewFakeClock pins the clock to start, normalized to UTC.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start.UTC()}
}

func (f *FakeClock) Now() time.Time {
	return f.current
}

// Advance steps the clock forward by d.
func (f *FakeClock) Advance(d time.Duration) {
	f.current = f.current.Add(d)
}
