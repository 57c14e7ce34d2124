package models

import "time"

// WindowKind is a fixed, calendar-aligned accounting period.
type WindowKind string

const (
	WindowMinute WindowKind = "minute"
	WindowHour   WindowKind = "hour"
	WindowDay    WindowKind = "day"
	WindowMonth  WindowKind = "month"
)

// WindowKinds lists all kinds ordered tightest first. Deny decisions
// report the first breached window in this order.
var WindowKinds = []WindowKind{WindowMinute, WindowHour, WindowDay, WindowMonth}

// Valid reports whether w is a known window kind.
func (w WindowKind) Valid() bool {
	switch w {
	case WindowMinute, WindowHour, WindowDay, WindowMonth:
		return true
	}
	return false
}

// SlotStart returns the start of the window slot containing t.
// Slots are aligned to calendar boundaries in UTC, not sliding.
func (w WindowKind) SlotStart(t time.Time) time.Time {
	t = t.UTC()
	switch w {
	case WindowMinute:
		return t.Truncate(time.Minute)
	case WindowHour:
		return t.Truncate(time.Hour)
	case WindowDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case WindowMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// SlotEnd returns the exclusive end of the window slot containing t.
func (w WindowKind) SlotEnd(t time.Time) time.Time {
	start := w.SlotStart(t)
	switch w {
	case WindowMinute:
		return start.Add(time.Minute)
	case WindowHour:
		return start.Add(time.Hour)
	case WindowDay:
		return start.AddDate(0, 0, 1)
	case WindowMonth:
		return start.AddDate(0, 1, 0)
	}
	return start
}
