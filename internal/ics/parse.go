package ics

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "growcal/internal/log"
	"growcal/internal/model"
)

// ParseICS imports the VEVENTs of an iCalendar payload as series.
//
//   - DTSTART gives the anchor date, and a time of day when it is a DATE-TIME.
//     UTC values are converted into loc first.
//   - RRULE is honoured for DAILY/WEEKLY/MONTHLY rules the model can
//     express; any other rule is imported as a single event.
//   - EXDATE becomes a cancellation, and a VEVENT carrying RECURRENCE-ID
//     becomes an override of its base series.
//   - VEVENTs without UID or DTSTART are logged and skipped.
func ParseICS(body []byte, loc *time.Location) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	events := make([]model.Event, 0)
	index := make(map[string]int)
	var overrides []*ical.VEvent

	for _, ve := range cal.Events() {
		if ve.GetProperty(propRecurrenceID) != nil {
			overrides = append(overrides, ve)
			continue
		}
		ev, perr := parseVEvent(ve, loc)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr)
			continue
		}
		if _, dup := index[ev.ID]; dup {
			appLog.Debug("ics duplicate UID ignored", "uid", ev.ID)
			continue
		}
		index[ev.ID] = len(events)
		events = append(events, ev)
	}

	for _, ve := range overrides {
		uid := propValue(ve, ical.ComponentPropertyUniqueId)
		i, ok := index[uid]
		if !ok {
			appLog.Debug("ics override without base event", "uid", uid)
			continue
		}
		rid, _, err := parseICSTime(propValue(ve, propRecurrenceID), loc)
		if err != nil {
			appLog.Error("ics recurrence-id parse failed", err, "uid", uid)
			continue
		}
		applyOverride(&events[i], ve, rid, loc)
	}

	appLog.Info("ics parse completed", "event_count", len(events), "override_count", len(overrides))
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.Event, error) {
	var out model.Event

	out.ID = propValue(ve, ical.ComponentPropertyUniqueId)
	if out.ID == "" {
		return out, errors.New("missing UID")
	}

	start, clock, err := parseICSTime(propValue(ve, ical.ComponentPropertyDtStart), loc)
	if err != nil {
		return out, err
	}
	out.Date = start
	out.Time = clock
	out.Title = propValue(ve, ical.ComponentPropertySummary)
	out.Type = categoryType(propValue(ve, ical.ComponentPropertyCategories))
	out.Color = propValue(ve, propColor)

	if raw := propValue(ve, ical.ComponentPropertyRrule); raw != "" {
		rec, err := parseRule(raw, out.Date)
		if err != nil {
			appLog.Debug("ics rrule not supported; importing as single event", "uid", out.ID, "rrule", raw, "err", err.Error())
		} else {
			out.Recurrence = rec
		}
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			d, _, err := parseICSTime(part, loc)
			if err != nil {
				continue
			}
			if out.Exceptions == nil {
				out.Exceptions = make(map[string]model.Exception)
			}
			out.Exceptions[model.DateKey(d)] = model.Exception{Cancelled: true}
		}
	}

	return out, nil
}

// applyOverride records the attributes of an overriding VEVENT as a patch
// on the base series for the date of its RECURRENCE-ID.
func applyOverride(base *model.Event, ve *ical.VEvent, rid time.Time, loc *time.Location) {
	var p model.Patch
	if s := propValue(ve, ical.ComponentPropertySummary); s != "" && s != base.Title {
		p.Title = &s
	}
	if _, clock, err := parseICSTime(propValue(ve, ical.ComponentPropertyDtStart), loc); err == nil && clock != base.Time {
		p.Time = &clock
	}
	if c := propValue(ve, ical.ComponentPropertyCategories); c != "" {
		if t := categoryType(c); t != base.Type {
			p.Type = &t
		}
	}
	if c := propValue(ve, propColor); c != "" && c != base.Color {
		p.Color = &c
	}
	if base.Exceptions == nil {
		base.Exceptions = make(map[string]model.Exception)
	}
	key := model.DateKey(rid)
	if base.Exceptions[key].Cancelled {
		return
	}
	base.Exceptions[key] = model.Exception{Override: &p}
}

// maxRuleCount bounds the COUNT of an imported rule.
const maxRuleCount = 10000

// parseRule maps an RRULE onto a Recurrence anchored at anchor. Parts the
// model cannot express (ordinal BYDAY, BYMONTH, BYSETPOS other than the
// month-end clamp, and so on) are rejected. UNTIL is read as the calendar
// date it names, without zone conversion. COUNT is turned into the UNTIL
// date of its last occurrence.
func parseRule(raw string, anchor time.Time) (*model.Recurrence, error) {
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, err
	}
	switch {
	case len(opt.Bymonth) > 0, len(opt.Byyearday) > 0, len(opt.Byweekno) > 0, len(opt.Byeaster) > 0:
		return nil, errors.New("unsupported BYMONTH/BYYEARDAY/BYWEEKNO/BYEASTER")
	case len(opt.Byhour) > 0, len(opt.Byminute) > 0, len(opt.Bysecond) > 0:
		return nil, errors.New("unsupported intraday rule parts")
	case opt.Count < 0 || opt.Count > maxRuleCount:
		return nil, fmt.Errorf("unsupported COUNT %d", opt.Count)
	}

	rec := &model.Recurrence{Interval: max(opt.Interval, 1)}
	switch opt.Freq {
	case rrule.DAILY:
		if len(opt.Byweekday) > 0 || len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 {
			return nil, errors.New("unsupported DAILY filter")
		}
		rec.Freq = model.FreqDaily
	case rrule.WEEKLY:
		if len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 {
			return nil, errors.New("unsupported WEEKLY filter")
		}
		rec.Freq = model.FreqWeekly
		for i := range opt.Byweekday {
			if opt.Byweekday[i].N() != 0 {
				return nil, errors.New("unsupported ordinal BYDAY")
			}
			// rrule counts Monday as 0.
			rec.ByWeekday = append(rec.ByWeekday, time.Weekday((opt.Byweekday[i].Day()+1)%7))
		}
		if !sameWeeks(opt.Wkst, rec, anchor) {
			return nil, fmt.Errorf("unsupported WKST %v", opt.Wkst)
		}
	case rrule.MONTHLY:
		if len(opt.Byweekday) > 0 {
			return nil, errors.New("unsupported MONTHLY BYDAY")
		}
		if !monthlyOnAnchorDay(opt, anchor.Day()) {
			return nil, errors.New("unsupported BYMONTHDAY/BYSETPOS")
		}
		rec.Freq = model.FreqMonthly
	default:
		return nil, fmt.Errorf("unsupported frequency %v", opt.Freq)
	}

	if !opt.Until.IsZero() {
		until := model.Day(opt.Until)
		rec.Until = &until
	}
	if opt.Count > 0 {
		last, err := lastOccurrence(rec, anchor, opt.Count)
		if err != nil {
			return nil, err
		}
		if rec.Until == nil || last.Before(*rec.Until) {
			rec.Until = &last
		}
	}
	return rec, nil
}

// sameWeeks reports whether grouping weeks from wkst yields the same
// occurrences as the Sunday based weeks of the model.
func sameWeeks(wkst rrule.Weekday, rec *model.Recurrence, anchor time.Time) bool {
	if rec.Interval == 1 || wkst == rrule.SU {
		return true
	}
	if len(rec.ByWeekday) == 0 || (len(rec.ByWeekday) == 1 && rec.ByWeekday[0] == anchor.Weekday()) {
		return true
	}
	if wkst != rrule.MO || anchor.Weekday() == time.Sunday {
		return false
	}
	return !slices.Contains(rec.ByWeekday, time.Sunday)
}

// monthlyOnAnchorDay accepts the forms that land on the anchor's day of
// month, clamped to the month end: no BYMONTHDAY, the day itself, the last
// of days 28..d, or -1 for a series on the 31st.
func monthlyOnAnchorDay(opt *rrule.ROption, dom int) bool {
	days, setpos := opt.Bymonthday, opt.Bysetpos
	switch {
	case len(days) == 0:
		return len(setpos) == 0
	case len(setpos) == 0:
		return len(days) == 1 && (days[0] == dom || (days[0] == -1 && dom == 31))
	case len(setpos) == 1 && setpos[0] == -1 && dom > 28:
		want := make([]int, 0, dom-27)
		for d := 28; d <= dom; d++ {
			want = append(want, d)
		}
		got := slices.Clone(days)
		slices.Sort(got)
		return slices.Equal(got, want)
	}
	return false
}

// lastOccurrence returns the date of the count-th occurrence of rec.
func lastOccurrence(rec *model.Recurrence, anchor time.Time, count int) (time.Time, error) {
	opt, err := ruleOption(&model.Recurrence{Freq: rec.Freq, Interval: rec.Interval, ByWeekday: rec.ByWeekday}, anchor)
	if err != nil {
		return time.Time{}, err
	}
	opt.Dtstart = model.Day(anchor)
	opt.Count = count
	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return time.Time{}, err
	}
	all := rule.All()
	if len(all) == 0 {
		return time.Time{}, errors.New("COUNT rule has no occurrences")
	}
	return model.Day(all[len(all)-1]), nil
}

func categoryType(v string) model.EventType {
	first, _, _ := strings.Cut(v, ",")
	if t := model.EventType(strings.ToLower(strings.TrimSpace(first))); t.Valid() {
		return t
	}
	return model.TypeEvent
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

// parseICSTime parses a DATE, floating DATE-TIME or UTC DATE-TIME value
// into a calendar date and, for DATE-TIME values, an HH:MM clock.
func parseICSTime(v string, loc *time.Location) (time.Time, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, "", errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return time.Time{}, "", err
		}
		t = t.In(loc)
		return model.Day(t), t.Format("15:04"), nil
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		t, err := time.Parse(floatingLayout, v)
		if err != nil {
			return time.Time{}, "", err
		}
		return model.Day(t), t.Format("15:04"), nil
	}

	// Date-only (all-day), e.g., 20250101
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, "", err
	}
	return model.Day(t), "", nil
}
