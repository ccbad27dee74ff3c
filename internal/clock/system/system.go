// Package system provides the wall clock used to stamp collected entries.
package system

import "time"

// Precision is the resolution of every timestamp returned by Clock. Blob file
// names and both metadata backends keep microseconds, so nothing finer is
// produced.
const Precision = time.Microsecond

// Clock implements archive.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to Precision, without a
// monotonic reading.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Precision)
}
