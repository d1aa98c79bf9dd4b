package model

import (
	"errors"
	"regexp"
	"strings"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ValidateEvent checks the attributes a user supplies when creating or
// rewriting a series.
func ValidateEvent(ev Event) error {
	title := strings.TrimSpace(ev.Title)
	if len(title) == 0 {
		return errors.New("title is required")
	}
	if len(title) > 200 {
		return errors.New("title is too long (200 characters tops)")
	}
	if ev.Time != "" && !clockPattern.MatchString(ev.Time) {
		return errors.New("time must be HH:MM")
	}
	if !ev.Type.Valid() {
		return errors.New("unknown event type")
	}
	if ev.Date.IsZero() {
		return errors.New("date is required")
	}
	if r := ev.Recurrence; r != nil {
		switch r.Freq {
		case FreqNone, FreqDaily, FreqWeekly, FreqMonthly:
		default:
			return errors.New("unknown recurrence frequency")
		}
		if r.Until != nil && r.Until.Before(ev.Date) {
			return errors.New("recurrence ends before it starts")
		}
	}
	return nil
}
