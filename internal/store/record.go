package store

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	appLog "growcal/internal/log"
	"growcal/internal/model"
)

// CalendarKey is the record key holding the calendar event collection.
const CalendarKey = "grower:entities:calendar"

// instantLayout matches what a browser's Date.toISOString produces.
const instantLayout = "2006-01-02T15:04:05.000Z"

type recordEvent struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Date       string            `json:"date"`
	Time       string            `json:"time"`
	Type       string            `json:"type"`
	Color      string            `json:"color"`
	SeriesID   string            `json:"seriesId,omitempty"`
	Recurrence *recordRecurrence `json:"recurrence,omitempty"`
	Exceptions []recordException `json:"exceptions"`
}

type recordRecurrence struct {
	Freq      string `json:"freq"`
	Interval  int    `json:"interval,omitempty"`
	ByWeekday []int  `json:"byWeekday,omitempty"`
	Until     string `json:"until,omitempty"`
}

type recordException struct {
	DateKey   string       `json:"dateKey"`
	Cancelled bool         `json:"cancelled,omitempty"`
	Override  *recordPatch `json:"override,omitempty"`
}

type recordPatch struct {
	Title *string `json:"title,omitempty"`
	Time  *string `json:"time,omitempty"`
	Type  *string `json:"type,omitempty"`
	Color *string `json:"color,omitempty"`
}

// EncodeEvents serializes a collection into the persisted record shape.
// Anchor dates are written as local midnight in loc, as a UTC instant.
func EncodeEvents(events []model.Event, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.Local
	}
	out := make([]recordEvent, 0, len(events))
	for _, ev := range events {
		y, m, d := ev.Date.Date()
		rec := recordEvent{
			ID:         ev.ID,
			Title:      ev.Title,
			Date:       time.Date(y, m, d, 0, 0, 0, 0, loc).UTC().Format(instantLayout),
			Time:       ev.Time,
			Type:       string(ev.Type),
			Color:      ev.Color,
			SeriesID:   ev.SeriesID,
			Exceptions: make([]recordException, 0, len(ev.Exceptions)),
		}
		if r := ev.Recurrence; r != nil {
			rr := &recordRecurrence{Freq: string(r.Freq), Interval: r.Interval}
			for _, wd := range r.ByWeekday {
				rr.ByWeekday = append(rr.ByWeekday, int(wd))
			}
			if r.Until != nil {
				rr.Until = model.DateKey(*r.Until)
			}
			rec.Recurrence = rr
		}
		for _, key := range ev.ExceptionKeys() {
			ex := ev.Exceptions[key]
			re := recordException{DateKey: key, Cancelled: ex.Cancelled}
			if p := ex.Override; p != nil {
				re.Override = &recordPatch{Title: p.Title, Time: p.Time, Color: p.Color}
				if p.Type != nil {
					t := string(*p.Type)
					re.Override.Type = &t
				}
			}
			rec.Exceptions = append(rec.Exceptions, re)
		}
		out = append(out, rec)
	}
	return json.Marshal(out)
}

// DecodeEvents parses a stored collection. It never fails: a payload that
// is not a JSON list yields an empty collection and malformed records are
// skipped. Instants in the date field are read as calendar dates in loc.
func DecodeEvents(data []byte, loc *time.Location) []model.Event {
	if loc == nil {
		loc = time.Local
	}
	events := make([]model.Event, 0)

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		appLog.Debug("calendar records are not a list; treating as empty", "err", err.Error())
		return events
	}

	seen := make(map[string]bool, len(raw))
	for i, item := range raw {
		ev, ok := decodeEvent(item, loc)
		if !ok || seen[ev.ID] {
			appLog.Debug("skipping malformed calendar record", "index", i)
			continue
		}
		seen[ev.ID] = true
		events = append(events, ev)
	}
	return events
}

func decodeEvent(item any, loc *time.Location) (model.Event, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return model.Event{}, false
	}
	id, ok := str(obj["id"])
	if !ok || id == "" {
		return model.Event{}, false
	}
	title, ok := str(obj["title"])
	if !ok {
		return model.Event{}, false
	}
	rawDate, _ := str(obj["date"])
	date, ok := parseDate(rawDate, loc)
	if !ok {
		return model.Event{}, false
	}

	ev := model.Event{
		ID:    id,
		Title: title,
		Date:  date,
		Type:  eventType(obj["type"]),
	}
	ev.Time, _ = str(obj["time"])
	ev.Color, _ = str(obj["color"])
	ev.SeriesID, _ = str(obj["seriesId"])
	ev.Recurrence = decodeRecurrence(obj["recurrence"], loc)
	ev.Exceptions = decodeExceptions(obj["exceptions"])
	return ev, true
}

func decodeRecurrence(v any, loc *time.Location) *model.Recurrence {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	r := &model.Recurrence{Freq: model.FreqNone, Interval: 1}
	if f, ok := str(obj["freq"]); ok {
		switch freq := model.Freq(strings.ToUpper(f)); freq {
		case model.FreqDaily, model.FreqWeekly, model.FreqMonthly:
			r.Freq = freq
		}
	}
	if n, ok := obj["interval"].(float64); ok && n >= 1 && n <= math.MaxInt32 {
		r.Interval = int(n)
	}
	if list, ok := obj["byWeekday"].([]any); ok {
		for _, item := range list {
			n, ok := item.(float64)
			if !ok || n != math.Trunc(n) || n < 0 || n > 6 {
				continue
			}
			r.ByWeekday = append(r.ByWeekday, time.Weekday(n))
		}
	}
	if u, ok := str(obj["until"]); ok {
		if until, ok := parseDate(u, loc); ok {
			r.Until = &until
		}
	}
	return r
}

// decodeExceptions builds the per-date map. When the list carries more
// than one entry for a date the first one wins.
func decodeExceptions(v any) map[string]model.Exception {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	out := make(map[string]model.Exception, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, _ := str(obj["dateKey"])
		d, err := model.ParseDateKey(key)
		if err != nil {
			continue
		}
		key = model.DateKey(d)
		if _, dup := out[key]; dup {
			continue
		}
		ex := model.Exception{}
		ex.Cancelled, _ = obj["cancelled"].(bool)
		if p, ok := obj["override"].(map[string]any); ok {
			ex.Override = decodePatch(p)
		}
		out[key] = ex
	}
	return out
}

func decodePatch(obj map[string]any) *model.Patch {
	p := &model.Patch{}
	if s, ok := str(obj["title"]); ok {
		p.Title = &s
	}
	if s, ok := str(obj["time"]); ok {
		p.Time = &s
	}
	if _, ok := obj["type"]; ok {
		t := eventType(obj["type"])
		p.Type = &t
	}
	if s, ok := str(obj["color"]); ok {
		p.Color = &s
	}
	return p
}

func eventType(v any) model.EventType {
	s, _ := str(v)
	if t := model.EventType(s); t.Valid() {
		return t
	}
	return model.TypeEvent
}

// parseDate accepts an ISO-8601 instant, read in loc, or a bare
// yyyy-MM-dd calendar date.
func parseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return model.Day(t.In(loc)), true
	}
	if d, err := model.ParseDateKey(s); err == nil {
		return d, true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return model.Day(t), true
	}
	return time.Time{}, false
}

func str(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
