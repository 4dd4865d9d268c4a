// Package system provides the wall clock used for fetched_at and synced_at stamps.
package system

import "time"

// Clock implements catalog.Clock using time.Now. Stamps are UTC and truncated
// to microseconds so they survive a round trip through Postgres timestamptz.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
