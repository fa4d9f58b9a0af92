// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

// Package clock provides a zone-fixed wall clock and the minute Tick
// value that drives the producer. A Clock is injected everywhere time
// matters so tests can pin the minute.
package clock

import (
	"fmt"
	"time"
)

// DefaultTimezone is the deployment zone when none is configured.
const DefaultTimezone = "Asia/Seoul"

// Tick describes one producer minute in the deployment zone.
type Tick struct {
	// Weekday is the lowercase English weekday name ("monday").
	Weekday string

	// Date is the ISO date (YYYY-MM-DD).
	Date string

	// MinutesSinceMidnight is 0..1439.
	MinutesSinceMidnight int

	// HHMM is the zero-padded wall time ("09:05").
	HHMM string

	// At is the instant the tick was taken.
	At time.Time
}

// Clock yields the current time in a fixed zone.
type Clock interface {
	Now() time.Time
	Tick() Tick
	Location() *time.Location
}

type wallClock struct {
	loc *time.Location
}

// New returns a Clock pinned to the named zone.
func New(timezone string) (Clock, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &wallClock{loc: loc}, nil
}

func (c *wallClock) Now() time.Time          { return time.Now().In(c.loc) }
func (c *wallClock) Tick() Tick              { return TickAt(c.Now()) }
func (c *wallClock) Location() *time.Location { return c.loc }

// TickAt builds the Tick for an arbitrary instant. The instant's own
// zone is respected, so callers convert first when they need a
// tenant-specific zone.
func TickAt(t time.Time) Tick {
	return Tick{
		Weekday:              WeekdayName(t.Weekday()),
		Date:                 t.Format("2006-01-02"),
		MinutesSinceMidnight: t.Hour()*60 + t.Minute(),
		HHMM:                 t.Format("15:04"),
		At:                   t,
	}
}

// WeekdayName lowercases a time.Weekday to the schedule table form.
func WeekdayName(d time.Weekday) string {
	switch d {
	case time.Sunday:
		return "sunday"
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	case time.Saturday:
		return "saturday"
	}
	return ""
}

// ParseHHMM converts "HH:MM" to minutes since midnight.
func ParseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Fixed is a Clock pinned to a single instant, for tests.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time           { return f.T }
func (f Fixed) Tick() Tick               { return TickAt(f.T) }
func (f Fixed) Location() *time.Location { return f.T.Location() }
