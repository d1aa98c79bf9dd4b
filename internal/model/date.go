package model

import (
	"time"
)

// DateKeyLayout is the canonical yyyy-MM-dd form of a calendar date.
const DateKeyLayout = "2006-01-02"

// Calendar dates are carried as time.Time values at midnight UTC. UTC has
// no DST transitions, so day arithmetic on these values is exact.

// Date builds a calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Day drops the time-of-day of t, keeping the calendar date as seen in t's
// own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// DateKey formats the calendar date of t as yyyy-MM-dd.
func DateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// ParseDateKey parses a yyyy-MM-dd key into a calendar date.
func ParseDateKey(key string) (time.Time, error) {
	return time.ParseInLocation(DateKeyLayout, key, time.UTC)
}

// AddDays moves a calendar date by n days.
func AddDays(d time.Time, n int) time.Time {
	return d.AddDate(0, 0, n)
}

// DaysBetween returns the number of whole days from a to b. Both must be
// calendar dates produced by this package. Unix seconds are used because a
// time.Duration cannot span more than about 292 years.
func DaysBetween(a, b time.Time) int {
	return int((b.Unix() - a.Unix()) / 86400)
}

// StartOfWeek returns the Sunday on or before d.
func StartOfWeek(d time.Time) time.Time {
	return AddDays(d, -int(d.Weekday()))
}

// StartOfMonth returns the first day of d's month.
func StartOfMonth(d time.Time) time.Time {
	return Date(d.Year(), d.Month(), 1)
}

// EndOfMonth returns the last day of d's month.
func EndOfMonth(d time.Time) time.Time {
	return Date(d.Year(), d.Month()+1, 0)
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return Date(year, month+1, 0).Day()
}

// MonthsBetween returns the month distance from a's month to b's month.
func MonthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
