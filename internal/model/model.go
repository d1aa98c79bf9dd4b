package model

import (
	"maps"
	"slices"
	"time"
)

// EventType is the display category of an event.
type EventType string

const (
	TypeEvent     EventType = "event"
	TypeDeadline  EventType = "deadline"
	TypeHabit     EventType = "habit"
	TypeMilestone EventType = "milestone"
	TypeWorkStudy EventType = "work/study"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case TypeEvent, TypeDeadline, TypeHabit, TypeMilestone, TypeWorkStudy:
		return true
	}
	return false
}

// Freq is the recurrence frequency of a series.
type Freq string

const (
	FreqNone    Freq = "NONE"
	FreqDaily   Freq = "DAILY"
	FreqWeekly  Freq = "WEEKLY"
	FreqMonthly Freq = "MONTHLY"
)

// Recurrence describes how a series repeats.
type Recurrence struct {
	Freq Freq
	// Interval is the step between occurrences in units of Freq. Values
	// below 1 are treated as 1.
	Interval int
	// ByWeekday restricts WEEKLY series to these weekdays. Empty means the
	// anchor's own weekday.
	ByWeekday []time.Weekday
	// Until is the last calendar date (inclusive) that may carry an
	// occurrence. Nil means unbounded.
	Until *time.Time
}

// Clone returns a deep copy of r.
func (r *Recurrence) Clone() *Recurrence {
	if r == nil {
		return nil
	}
	out := *r
	out.ByWeekday = slices.Clone(r.ByWeekday)
	if r.Until != nil {
		u := *r.Until
		out.Until = &u
	}
	return &out
}

// Patch is a partial set of display attributes. Nil fields are left alone.
type Patch struct {
	Title *string
	Time  *string
	Type  *EventType
	Color *string
}

// Empty reports whether the patch carries no field at all.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Time == nil && p.Type == nil && p.Color == nil
}

// Exception modifies a single occurrence of a series.
type Exception struct {
	Cancelled bool
	Override  *Patch
}

// Event is a stored series definition. A non-recurring event is a series
// with exactly one occurrence at Date.
type Event struct {
	ID    string
	Title string
	Time  string // "HH:MM" or empty
	Type  EventType
	Color string

	// Date is the anchor calendar date, normalized with Day.
	Date time.Time

	// SeriesID is the ID of the series this one was split from, if any.
	// It is lineage metadata only.
	SeriesID string

	Recurrence *Recurrence

	// Exceptions are keyed by DateKey of the occurrence they modify.
	Exceptions map[string]Exception
}

// Recurring reports whether the event repeats at all.
func (e Event) Recurring() bool {
	return e.Recurrence != nil && e.Recurrence.Freq != FreqNone && e.Recurrence.Freq != ""
}

// ApplyPatch returns a copy of e with the patch fields written onto its
// display attributes.
func (e Event) ApplyPatch(p Patch) Event {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Time != nil {
		e.Time = *p.Time
	}
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.Color != nil {
		e.Color = *p.Color
	}
	return e
}

// Clone returns a deep copy of e so callers can modify it without touching
// the original.
func (e Event) Clone() Event {
	out := e
	out.Recurrence = e.Recurrence.Clone()
	if e.Exceptions != nil {
		out.Exceptions = make(map[string]Exception, len(e.Exceptions))
		for k, ex := range e.Exceptions {
			if ex.Override != nil {
				p := *ex.Override
				ex.Override = &p
			}
			out.Exceptions[k] = ex
		}
	}
	return out
}

// ExceptionKeys returns the exception date keys in ascending order.
func (e Event) ExceptionKeys() []string {
	return slices.Sorted(maps.Keys(e.Exceptions))
}

// Occurrence is a single concrete appearance of a series on a calendar
// date, after exceptions have been applied. Occurrences are never stored.
type Occurrence struct {
	SourceEventID string
	Date          time.Time

	Title string
	Time  string
	Type  EventType
	Color string
}

// Key identifies the occurrence as (source event, date).
func (o Occurrence) Key() string {
	return o.SourceEventID + "@" + DateKey(o.Date)
}
