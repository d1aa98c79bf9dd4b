package web

import (
	"errors"
	"time"

	"growcal/internal/model"
	"growcal/internal/recur"
)

// recurrenceDTO is the JSON form of a recurrence rule. Dates are yyyy-MM-dd.
type recurrenceDTO struct {
	Freq      string `json:"freq"`
	Interval  int    `json:"interval,omitempty"`
	ByWeekday []int  `json:"byWeekday,omitempty"`
	Until     string `json:"until,omitempty"`
}

func (r *recurrenceDTO) recurrence() (*model.Recurrence, error) {
	if r == nil {
		return nil, nil
	}
	out := &model.Recurrence{Freq: model.Freq(r.Freq), Interval: max(r.Interval, 1)}
	for _, wd := range r.ByWeekday {
		if wd < 0 || wd > 6 {
			return nil, errors.New("byWeekday values must be 0-6")
		}
		out.ByWeekday = append(out.ByWeekday, time.Weekday(wd))
	}
	if r.Until != "" {
		u, err := model.ParseDateKey(r.Until)
		if err != nil {
			return nil, errors.New("invalid until date")
		}
		out.Until = &u
	}
	if out.Freq == "" || out.Freq == model.FreqNone {
		return nil, nil
	}
	return out, nil
}

func newRecurrenceDTO(r *model.Recurrence) *recurrenceDTO {
	if r == nil {
		return nil
	}
	out := &recurrenceDTO{Freq: string(r.Freq), Interval: r.Interval}
	for _, wd := range r.ByWeekday {
		out.ByWeekday = append(out.ByWeekday, int(wd))
	}
	if r.Until != nil {
		out.Until = model.DateKey(*r.Until)
	}
	return out
}

type patchDTO struct {
	Title *string `json:"title,omitempty"`
	Time  *string `json:"time,omitempty"`
	Type  *string `json:"type,omitempty"`
	Color *string `json:"color,omitempty"`
}

func (p patchDTO) patch() model.Patch {
	out := model.Patch{Title: p.Title, Time: p.Time, Color: p.Color}
	if p.Type != nil {
		t := model.EventType(*p.Type)
		out.Type = &t
	}
	return out
}

type createRequest struct {
	ID         string         `json:"id,omitempty"`
	Title      string         `json:"title"`
	Date       string         `json:"date"`
	Time       string         `json:"time,omitempty"`
	Type       string         `json:"type,omitempty"`
	Color      string         `json:"color,omitempty"`
	Recurrence *recurrenceDTO `json:"recurrence,omitempty"`
}

func (c createRequest) event() (model.Event, error) {
	d, err := model.ParseDateKey(c.Date)
	if err != nil {
		return model.Event{}, errors.New("invalid date")
	}
	rec, err := c.Recurrence.recurrence()
	if err != nil {
		return model.Event{}, err
	}
	return model.Event{
		ID:         c.ID,
		Title:      c.Title,
		Date:       d,
		Time:       c.Time,
		Type:       model.EventType(c.Type),
		Color:      c.Color,
		Recurrence: rec,
	}, nil
}

type editRequest struct {
	Anchor          string         `json:"anchor"`
	Scope           string         `json:"scope"`
	Patch           patchDTO       `json:"patch"`
	Date            string         `json:"date,omitempty"`
	Recurrence      *recurrenceDTO `json:"recurrence,omitempty"`
	ClearRecurrence bool           `json:"clearRecurrence,omitempty"`
}

func (e editRequest) edit() (recur.Edit, error) {
	out := recur.Edit{Patch: e.Patch.patch(), ClearRecurrence: e.ClearRecurrence}
	if e.Date != "" {
		d, err := model.ParseDateKey(e.Date)
		if err != nil {
			return recur.Edit{}, errors.New("invalid date")
		}
		out.Date = &d
	}
	if e.Recurrence != nil {
		rec, err := e.Recurrence.recurrence()
		if err != nil {
			return recur.Edit{}, err
		}
		if rec == nil {
			out.ClearRecurrence = true
		}
		out.Recurrence = rec
	}
	return out, nil
}

type deleteRequest struct {
	Anchor string `json:"anchor"`
	Scope  string `json:"scope"`
}

type eventDTO struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Date       string         `json:"date"`
	Time       string         `json:"time"`
	Type       string         `json:"type"`
	Color      string         `json:"color"`
	SeriesID   string         `json:"seriesId,omitempty"`
	Recurrence *recurrenceDTO `json:"recurrence,omitempty"`
}

func newEventDTO(ev model.Event) eventDTO {
	return eventDTO{
		ID:         ev.ID,
		Title:      ev.Title,
		Date:       model.DateKey(ev.Date),
		Time:       ev.Time,
		Type:       string(ev.Type),
		Color:      ev.Color,
		SeriesID:   ev.SeriesID,
		Recurrence: newRecurrenceDTO(ev.Recurrence),
	}
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	Key           string `json:"key"`
	SourceEventID string `json:"sourceEventId"`
	Date          string `json:"date"`
	Title         string `json:"title"`
	Time          string `json:"time"`
	Type          string `json:"type"`
	Color         string `json:"color"`
}

func newOccurrenceDTOs(occs []model.Occurrence) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(occs))
	for _, o := range occs {
		out = append(out, occurrenceDTO{
			Key:           o.Key(),
			SourceEventID: o.SourceEventID,
			Date:          model.DateKey(o.Date),
			Title:         o.Title,
			Time:          o.Time,
			Type:          string(o.Type),
			Color:         o.Color,
		})
	}
	return out
}

type occurrencesResponse struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	Occurrences []occurrenceDTO `json:"occurrences"`
	// Truncated lists series cut off at the occurrence cap.
	Truncated []string `json:"truncated,omitempty"`
}

type scopesResponse struct {
	Scopes []recur.Scope `json:"scopes"`
}
