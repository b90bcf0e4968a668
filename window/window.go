// Package window evaluates a daily time-of-day window against the current
// time.
//
// A window whose end is numerically earlier than its start (23:00-01:00)
// spans midnight: the end falls on the day after the start.
package window

import (
	"fmt"
	"time"
)

// Phase is where a point in time falls relative to a window instance.
type Phase int

const (
	Before Phase = iota
	In
	After
)

func (p Phase) String() string {
	switch p {
	case Before:
		return "BEFORE_WINDOW"
	case In:
		return "IN_WINDOW"
	case After:
		return "AFTER_WINDOW"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Window is a daily time-of-day interval [start, end).
type Window struct {
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int

	// Location anchors the calendar date. Nil means UTC.
	Location *time.Location
}

func (w Window) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 {
		return fmt.Errorf("start hour %d out of range 0-23", w.StartHour)
	}
	if w.EndHour < 0 || w.EndHour > 23 {
		return fmt.Errorf("end hour %d out of range 0-23", w.EndHour)
	}
	if w.StartMinute < 0 || w.StartMinute > 59 {
		return fmt.Errorf("start minute %d out of range 0-59", w.StartMinute)
	}
	if w.EndMinute < 0 || w.EndMinute > 59 {
		return fmt.Errorf("end minute %d out of range 0-59", w.EndMinute)
	}
	if w.startOfDay() == w.endOfDay() {
		return fmt.Errorf("window start and end are both %02d:%02d", w.StartHour, w.StartMinute)
	}
	return nil
}

// CrossesMidnight reports whether the window ends on the day after it starts.
func (w Window) CrossesMidnight() bool {
	return w.endOfDay() < w.startOfDay()
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.StartHour, w.StartMinute, w.EndHour, w.EndMinute)
}

// Bounds returns the start and end of the window instance that governs now.
//
// For a same-day window this is today's window. For a window crossing
// midnight it is the instance that began yesterday while now is still
// before today's end, and the instance beginning today otherwise.
func (w Window) Bounds(now time.Time) (start, end time.Time) {
	now = now.In(w.loc())
	start = w.at(now, w.StartHour, w.StartMinute)
	end = w.at(now, w.EndHour, w.EndMinute)

	if !w.CrossesMidnight() {
		return start, end
	}
	if now.Before(end) {
		return start.AddDate(0, 0, -1), end
	}
	return start, end.AddDate(0, 0, 1)
}

// Phase reports where now falls relative to the window instance from Bounds.
func (w Window) Phase(now time.Time) Phase {
	start, end := w.Bounds(now)
	switch {
	case now.Before(start):
		return Before
	case now.Before(end):
		return In
	default:
		return After
	}
}

// Contains reports whether now is inside [start, end).
func (w Window) Contains(now time.Time) bool {
	return w.Phase(now) == In
}

func (w Window) at(day time.Time, hour, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, w.loc())
}

func (w Window) loc() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

func (w Window) startOfDay() int { return w.StartHour*60 + w.StartMinute }
func (w Window) endOfDay() int   { return w.EndHour*60 + w.EndMinute }
