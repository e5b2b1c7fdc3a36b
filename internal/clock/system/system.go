// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements outreach.Clock using time.Now.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting UTC.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewIn creates a Clock reporting times in loc.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.location())
}

// Location returns the zone the clock reports in.
func (c *Clock) Location() *time.Location {
	return c.location()
}

func (c *Clock) location() *time.Location {
	if c == nil || c.loc == nil {
		return time.UTC
	}
	return c.loc
}
