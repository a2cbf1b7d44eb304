package resilience

import "time"

// Clock abstracts time so admission and backoff can be driven by a fake
// clock in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall-clock implementation of Clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// After returns time.After(d).
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return SystemClock{}
	}
	return c
}
