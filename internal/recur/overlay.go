package recur

import (
	"time"

	"growcal/internal/model"
)

// overlay turns a candidate date of ev into an occurrence, applying the
// exception recorded for that date. It reports false for a cancelled date.
func overlay(ev model.Event, d time.Time) (model.Occurrence, bool) {
	base := ev
	if ex, ok := ev.Exceptions[model.DateKey(d)]; ok {
		if ex.Cancelled {
			return model.Occurrence{}, false
		}
		if ex.Override != nil {
			base = ev.ApplyPatch(*ex.Override)
		}
	}
	return model.Occurrence{
		SourceEventID: ev.ID,
		Date:          d,
		Title:         base.Title,
		Time:          base.Time,
		Type:          base.Type,
		Color:         base.Color,
	}, true
}

// withException returns a copy of ev whose exception for dateKey is
// replaced by ex.
func withException(ev model.Event, dateKey string, ex model.Exception) model.Event {
	out := ev.Clone()
	if out.Exceptions == nil {
		out.Exceptions = make(map[string]model.Exception)
	}
	out.Exceptions[dateKey] = ex
	return out
}
