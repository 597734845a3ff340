// Package system is the wall clock behind job lifecycle timestamps
// (created_at, updated_at, completed_at) and summary creation times.
package system

import "time"

// Clock implements crawler.Clock.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns UTC time truncated to microseconds. Stale-job detection compares
// stored updated_at values against Now, and both Postgres and SQLite keep
// microseconds, so a timestamp read back equals the one written.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
