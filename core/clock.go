package core

import "time"

// Clock abstracts time for components with time-dependent behavior (debounce
// flushing, idle detection, journal expiry, hour windows) so tests can drive
// them deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real-time Clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
