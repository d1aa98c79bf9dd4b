package recur

import (
	"cmp"
	"errors"
	"slices"
	"time"

	appLog "growcal/internal/log"
	"growcal/internal/model"
)

// ExpandConfig controls expansion of a whole collection.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive window of calendar dates.
	// Time-of-day is ignored.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps the output per series. Zero means no cap.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded occurrences and the series that hit the cap.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records IDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// ExpandAll expands every event of a collection into occurrences within the
// configured window. Occurrences are ordered by date, then time of day, then
// collection order.
func ExpandAll(events []model.Event, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	start, end := model.Day(cfg.RangeStart), model.Day(cfg.RangeEnd)
	if end.Before(start) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}

	all := make([]model.Occurrence, 0)
	for _, ev := range events {
		occ, truncated := expand(ev, start, end, cfg.MaxOccurrencesPerEvent)
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.ID)
			appLog.Error("expand: truncated occurrences due to cap",
				errors.New("max occurrences reached"),
				"id", ev.ID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		all = append(all, occ...)
	}

	slices.SortStableFunc(all, func(a, b model.Occurrence) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Time, b.Time)
	})

	result.Occurrences = all
	return result, nil
}

// Expand returns the occurrences of ev that fall on calendar dates in
// [windowStart, windowEnd], in date order, with exceptions applied. It does
// not modify ev.
func Expand(ev model.Event, windowStart, windowEnd time.Time) []model.Occurrence {
	out, _ := expand(ev, model.Day(windowStart), model.Day(windowEnd), 0)
	return out
}

// expand collects at most limit occurrences (0 means no limit) and reports
// whether more would have followed. Candidate generation stops at the cap.
func expand(ev model.Event, start, end time.Time, limit int) ([]model.Occurrence, bool) {
	out := make([]model.Occurrence, 0)
	truncated := false
	eachCandidate(ev, start, end, func(d time.Time) bool {
		occ, ok := overlay(ev, d)
		if !ok {
			return true
		}
		if limit > 0 && len(out) == limit {
			truncated = true
			return false
		}
		out = append(out, occ)
		return true
	})
	return out, truncated
}

// IsOccurrence reports whether the series rule of ev produces date,
// regardless of any exception recorded for it.
func IsOccurrence(ev model.Event, date time.Time) bool {
	d := model.Day(date)
	found := false
	eachCandidate(ev, d, d, func(time.Time) bool {
		found = true
		return false
	})
	return found
}

// Upcoming returns at most limit occurrences from the collection starting
// at from and looking horizonDays ahead.
func Upcoming(events []model.Event, from time.Time, horizonDays, limit int) []model.Occurrence {
	if horizonDays < 0 {
		horizonDays = 0
	}
	start := model.Day(from)
	res, err := ExpandAll(events, ExpandConfig{
		RangeStart: start,
		RangeEnd:   model.AddDays(start, horizonDays),
	})
	if err != nil {
		return nil
	}
	if limit > 0 && len(res.Occurrences) > limit {
		return res.Occurrences[:limit]
	}
	return res.Occurrences
}

// eachCandidate calls emit for every date in [start, end] produced by the
// rule of ev, in ascending order, until emit returns false. Exceptions are
// not consulted.
func eachCandidate(ev model.Event, start, end time.Time, emit func(time.Time) bool) {
	anchor := model.Day(ev.Date)
	if anchor.After(end) || end.Before(start) {
		return
	}

	// Until only bounds repeating series.
	if !ev.Recurring() {
		if !anchor.Before(start) {
			emit(anchor)
		}
		return
	}

	var until *time.Time
	if ev.Recurrence.Until != nil {
		u := model.Day(*ev.Recurrence.Until)
		until = &u
	}
	if until != nil && until.Before(start) {
		return
	}

	push := func(d time.Time) bool {
		if d.Before(anchor) || d.Before(start) || d.After(end) {
			return true
		}
		if until != nil && d.After(*until) {
			return true
		}
		return emit(d)
	}

	// Never walk past the earlier of windowEnd and until.
	last := end
	if until != nil && until.Before(last) {
		last = *until
	}

	interval := ev.Recurrence.Interval
	if interval < 1 {
		interval = 1
	}

	switch ev.Recurrence.Freq {
	case model.FreqDaily:
		expandDaily(anchor, start, last, interval, push)
	case model.FreqWeekly:
		expandWeekly(anchor, start, last, interval, weekdays(ev.Recurrence.ByWeekday, anchor), push)
	case model.FreqMonthly:
		expandMonthly(anchor, start, last, interval, push)
	default:
		push(anchor)
	}
}

func expandDaily(anchor, start, last time.Time, interval int, push func(time.Time) bool) {
	k := 0
	if diff := model.DaysBetween(anchor, start); diff > 0 {
		k = (diff + interval - 1) / interval * interval
	}
	for cur := model.AddDays(anchor, k); !cur.After(last); cur = model.AddDays(cur, interval) {
		if !push(cur) {
			return
		}
	}
}

func expandWeekly(anchor, start, last time.Time, interval int, days []time.Weekday, push func(time.Time) bool) {
	anchorWeek := model.StartOfWeek(anchor)
	cursor := model.StartOfWeek(start)
	if cursor.Before(anchorWeek) {
		cursor = anchorWeek
	}
	if offset := (model.DaysBetween(anchorWeek, cursor) / 7) % interval; offset != 0 {
		cursor = model.AddDays(cursor, (interval-offset)*7)
	}
	for ; !cursor.After(last); cursor = model.AddDays(cursor, interval*7) {
		for _, wd := range days {
			if !push(model.AddDays(cursor, int(wd))) {
				return
			}
		}
	}
}

func expandMonthly(anchor, start, last time.Time, interval int, push func(time.Time) bool) {
	dom := anchor.Day()
	anchorMonth := model.StartOfMonth(anchor)
	cursor := model.StartOfMonth(start)
	if cursor.Before(anchorMonth) {
		cursor = anchorMonth
	}
	if offset := model.MonthsBetween(anchorMonth, cursor) % interval; offset != 0 {
		cursor = cursor.AddDate(0, interval-offset, 0)
	}
	for ; !cursor.After(last); cursor = cursor.AddDate(0, interval, 0) {
		day := min(dom, model.DaysInMonth(cursor.Year(), cursor.Month()))
		if !push(model.Date(cursor.Year(), cursor.Month(), day)) {
			return
		}
	}
}

// weekdays resolves the active weekday set of a WEEKLY rule: valid entries
// deduplicated and sorted, or the anchor's weekday when none remain.
func weekdays(by []time.Weekday, anchor time.Time) []time.Weekday {
	out := make([]time.Weekday, 0, len(by))
	for _, wd := range by {
		if wd < time.Sunday || wd > time.Saturday {
			continue
		}
		out = append(out, wd)
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return []time.Weekday{anchor.Weekday()}
	}
	return out
}
