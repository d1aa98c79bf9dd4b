package ics

import (
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "growcal/internal/log"
	"growcal/internal/model"
)

const (
	productID      = "-//growcal//growcal//EN"
	dateLayout     = "20060102"
	floatingLayout = "20060102T150405"
)

// propRecurrenceID is spelled out; older library versions lack the constant.
const propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")

const propColor = ical.ComponentProperty("COLOR")

// rruleWeekdays maps time.Weekday (Sunday = 0) onto rrule weekdays.
var rruleWeekdays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ExportSeries renders the collection as an iCalendar feed with one VEVENT
// per series. Recurrence becomes an RRULE, cancelled dates become EXDATEs
// and overridden dates become extra VEVENTs carrying a RECURRENCE-ID.
func ExportSeries(events []model.Event, name string, now time.Time) (string, error) {
	cal := newCalendar(name)

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		fillEvent(ve, ev.Title, ev.Time, ev.Type, ev.Color, ev.Date, now)

		if ev.Recurring() {
			rule, err := RuleString(ev.Recurrence, ev.Date)
			if err != nil {
				return "", fmt.Errorf("event %s: %w", ev.ID, err)
			}
			ve.AddProperty(ical.ComponentPropertyRrule, rule)
		}

		for _, key := range ev.ExceptionKeys() {
			ex := ev.Exceptions[key]
			d, err := model.ParseDateKey(key)
			if err != nil {
				continue
			}
			value, params, _ := startValue(d, ev.Time)
			if ex.Cancelled {
				ve.AddProperty(ical.ComponentPropertyExdate, value, params...)
				continue
			}
			if ex.Override == nil {
				continue
			}
			patched := ev.ApplyPatch(*ex.Override)
			ov := cal.AddEvent(ev.ID)
			fillEvent(ov, patched.Title, patched.Time, patched.Type, patched.Color, d, now)
			ov.SetProperty(propRecurrenceID, value, params...)
		}
	}

	return cal.Serialize(), nil
}

// ExportOccurrences renders already expanded occurrences, one VEVENT each.
func ExportOccurrences(occs []model.Occurrence, name string, now time.Time) string {
	cal := newCalendar(name)
	for _, o := range occs {
		ve := cal.AddEvent(o.Key())
		fillEvent(ve, o.Title, o.Time, o.Type, o.Color, o.Date, now)
	}
	return cal.Serialize()
}

// RuleString builds the RRULE value for a recurrence anchored at anchor.
// A monthly rule on a day past the 28th is written as "the last of days
// 28..d", which clamps to the end of shorter months. UNTIL is written as
// the last second of the until date so a timed occurrence on that date is
// still inside the rule.
func RuleString(rec *model.Recurrence, anchor time.Time) (string, error) {
	opt, err := ruleOption(rec, anchor)
	if err != nil {
		return "", err
	}
	if rec.Until != nil {
		u := model.Day(*rec.Until)
		opt.Until = time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, time.UTC)
	}
	return opt.RRuleString(), nil
}

func ruleOption(rec *model.Recurrence, anchor time.Time) (rrule.ROption, error) {
	if rec == nil {
		return rrule.ROption{}, errors.New("no recurrence")
	}
	opt := rrule.ROption{
		Interval: max(rec.Interval, 1),
		Wkst:     rrule.SU,
	}
	switch rec.Freq {
	case model.FreqDaily:
		opt.Freq = rrule.DAILY
	case model.FreqWeekly:
		opt.Freq = rrule.WEEKLY
		days := rec.ByWeekday
		if len(days) == 0 {
			days = []time.Weekday{anchor.Weekday()}
		}
		for _, wd := range days {
			if wd >= time.Sunday && wd <= time.Saturday {
				opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
			}
		}
	case model.FreqMonthly:
		opt.Freq = rrule.MONTHLY
		if d := anchor.Day(); d > 28 {
			for day := 28; day <= d; day++ {
				opt.Bymonthday = append(opt.Bymonthday, day)
			}
			opt.Bysetpos = []int{-1}
		} else {
			opt.Bymonthday = []int{d}
		}
	default:
		return rrule.ROption{}, fmt.Errorf("unsupported frequency %q", rec.Freq)
	}
	return opt, nil
}

func newCalendar(name string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	return cal
}

func fillEvent(ve *ical.VEvent, title, clock string, typ model.EventType, color string, date, now time.Time) {
	ve.SetDtStampTime(now)
	value, params, allDay := startValue(date, clock)
	ve.SetProperty(ical.ComponentPropertyDtStart, value, params...)
	if allDay {
		ve.SetProperty(ical.ComponentPropertyDtEnd, model.AddDays(date, 1).Format(dateLayout), params...)
	}
	ve.SetSummary(title)
	if typ != "" {
		ve.SetProperty(ical.ComponentPropertyCategories, string(typ))
	}
	if color != "" {
		ve.SetProperty(propColor, color)
	}
}

// startValue formats a calendar date, with an optional HH:MM clock, as a
// DATE or floating DATE-TIME value. allDay reports the DATE form.
func startValue(date time.Time, clock string) (value string, params []ical.PropertyParameter, allDay bool) {
	if clock != "" {
		if t, err := time.Parse("15:04", clock); err == nil {
			at := time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
			return at.Format(floatingLayout), nil, false
		}
		appLog.Debug("ics export: ignoring malformed time", "time", clock)
	}
	return date.Format(dateLayout), []ical.PropertyParameter{
		&ical.KeyValues{Key: "VALUE", Value: []string{"DATE"}},
	}, true
}
