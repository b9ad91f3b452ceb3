// Package clock abstracts the wall clock so lifecycle decisions can be tested.
package clock

import "time"

// Clock reports the current instant
type Clock interface {
	Now() time.Time
}

// System is the wall clock
type System struct{}

var _ Clock = System{}

// Now returns the current UTC time truncated to microseconds, the precision
// every store keeps.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Func adapts a function to the Clock interface
type Func func() time.Time

// Now calls f
func (f Func) Now() time.Time {
	return f()
}
