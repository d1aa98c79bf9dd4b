package recur

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"growcal/internal/model"
)

// Scope is the breadth of an edit or delete.
type Scope string

const (
	// ScopeOccurrence affects only the occurrence at the anchor date.
	ScopeOccurrence Scope = "occurrence"
	// ScopeFuture affects the anchor occurrence and every later one.
	ScopeFuture Scope = "future"
	// ScopeSeries affects every occurrence of the series.
	ScopeSeries Scope = "series"
)

// ParseScope converts a user-supplied scope name.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(s); sc {
	case ScopeOccurrence, ScopeFuture, ScopeSeries:
		return sc, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
}

// Scopes lists the scopes an interface may offer for ev.
func Scopes(ev model.Event) []Scope {
	if !ev.Recurring() {
		return []Scope{ScopeSeries}
	}
	return []Scope{ScopeOccurrence, ScopeFuture, ScopeSeries}
}

// NewID generates IDs for series created by a future-scope split.
var NewID = uuid.NewString

// Edit describes a change to a series.
//
// Patch applies to every scope. Date and ClearRecurrence/Recurrence are
// only meaningful for series and future scope: Date moves the anchor of the
// series (series scope only); Recurrence replaces the rule, or for a future
// split supplies the successor's rule (nil inherits the original rule);
// ClearRecurrence makes the result non-recurring.
type Edit struct {
	model.Patch

	Date            *time.Time
	Recurrence      *model.Recurrence
	ClearRecurrence bool
}

// ApplyEdit applies edit to the occurrence(s) of event id selected by
// anchor and scope, returning a new collection. The input slice and its
// events are left untouched.
func ApplyEdit(events []model.Event, id string, anchor time.Time, scope Scope, edit Edit) ([]model.Event, error) {
	idx, err := locate(events, id, anchor, scope)
	if err != nil {
		return nil, err
	}
	ev := events[idx]
	day := model.Day(anchor)
	out := slices.Clone(events)

	switch scope {
	case ScopeOccurrence:
		patch := clonePatch(edit.Patch)
		out[idx] = withException(ev, model.DateKey(day), model.Exception{Override: &patch})
		return out, nil

	case ScopeFuture:
		// The successor is anchored on the edited date, so a monthly series
		// split on a clamped month end keeps that shorter day from then on.
		successor := ev.Clone().ApplyPatch(clonePatch(edit.Patch))
		successor.ID = NewID()
		successor.Date = day
		successor.Exceptions = nil
		successor.SeriesID = ev.SeriesID
		if successor.SeriesID == "" {
			successor.SeriesID = ev.ID
		}
		switch {
		case edit.ClearRecurrence:
			successor.Recurrence = nil
		case edit.Recurrence != nil:
			successor.Recurrence = edit.Recurrence.Clone()
		}

		truncated, alive := truncate(ev, day)
		if !alive {
			out[idx] = successor
			return out, nil
		}
		out[idx] = truncated
		return slices.Insert(out, idx+1, successor), nil

	default:
		updated := ev.Clone().ApplyPatch(clonePatch(edit.Patch))
		if edit.Date != nil {
			updated.Date = model.Day(*edit.Date)
		}
		switch {
		case edit.ClearRecurrence:
			updated.Recurrence = nil
		case edit.Recurrence != nil:
			updated.Recurrence = edit.Recurrence.Clone()
		}
		out[idx] = updated
		return out, nil
	}
}

// ApplyDelete removes the occurrence(s) of event id selected by anchor and
// scope, returning a new collection.
func ApplyDelete(events []model.Event, id string, anchor time.Time, scope Scope) ([]model.Event, error) {
	idx, err := locate(events, id, anchor, scope)
	if err != nil {
		return nil, err
	}
	ev := events[idx]
	day := model.Day(anchor)
	out := slices.Clone(events)

	switch scope {
	case ScopeOccurrence:
		out[idx] = withException(ev, model.DateKey(day), model.Exception{Cancelled: true})
		return out, nil
	case ScopeFuture:
		truncated, alive := truncate(ev, day)
		if alive {
			out[idx] = truncated
			return out, nil
		}
	}
	return slices.Delete(out, idx, idx+1), nil
}

// locate finds event id and checks that scope and anchor are valid for it.
func locate(events []model.Event, id string, anchor time.Time, scope Scope) (int, error) {
	if _, err := ParseScope(string(scope)); err != nil {
		return -1, err
	}
	idx := slices.IndexFunc(events, func(ev model.Event) bool { return ev.ID == id })
	if idx < 0 {
		return -1, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	ev := events[idx]
	if scope != ScopeSeries && !ev.Recurring() {
		return -1, fmt.Errorf("%w: %s", ErrScopeUnavailable, scope)
	}
	if !IsOccurrence(ev, anchor) {
		return -1, fmt.Errorf("%w: %s on %s", ErrNotAnOccurrence, id, model.DateKey(model.Day(anchor)))
	}
	return idx, nil
}

// truncate ends the series of ev the day before day. It reports false when
// nothing of the series would remain.
func truncate(ev model.Event, day time.Time) (model.Event, bool) {
	until := model.AddDays(day, -1)
	if until.Before(model.Day(ev.Date)) {
		return ev, false
	}
	out := ev.Clone()
	out.Recurrence.Until = &until
	return out, true
}

func clonePatch(p model.Patch) model.Patch {
	var out model.Patch
	if p.Title != nil {
		v := *p.Title
		out.Title = &v
	}
	if p.Time != nil {
		v := *p.Time
		out.Time = &v
	}
	if p.Type != nil {
		v := *p.Type
		out.Type = &v
	}
	if p.Color != nil {
		v := *p.Color
		out.Color = &v
	}
	return out
}
