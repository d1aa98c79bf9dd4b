package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"growcal/internal/model"
)

var exportNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestRuleString(t *testing.T) {
	t.Parallel()

	until := model.Date(2024, 6, 30)
	tests := []struct {
		name   string
		rec    model.Recurrence
		anchor time.Time
		want   []string
	}{
		{
			name:   "daily",
			rec:    model.Recurrence{Freq: model.FreqDaily, Interval: 3},
			anchor: model.Date(2024, 1, 1),
			want:   []string{"FREQ=DAILY", "INTERVAL=3"},
		},
		{
			name:   "weekly defaults to anchor weekday",
			rec:    model.Recurrence{Freq: model.FreqWeekly, Interval: 1},
			anchor: model.Date(2024, 1, 3),
			want:   []string{"FREQ=WEEKLY", "BYDAY=WE", "WKST=SU"},
		},
		{
			name:   "weekly with until",
			rec:    model.Recurrence{Freq: model.FreqWeekly, Interval: 2, ByWeekday: []time.Weekday{time.Monday, time.Friday}, Until: &until},
			anchor: model.Date(2024, 1, 1),
			want:   []string{"FREQ=WEEKLY", "INTERVAL=2", "BYDAY=MO,FR", "UNTIL=20240630T235959Z"},
		},
		{
			name:   "monthly mid month",
			rec:    model.Recurrence{Freq: model.FreqMonthly, Interval: 1},
			anchor: model.Date(2024, 1, 15),
			want:   []string{"FREQ=MONTHLY", "BYMONTHDAY=15"},
		},
		{
			name:   "monthly end of month",
			rec:    model.Recurrence{Freq: model.FreqMonthly, Interval: 1},
			anchor: model.Date(2024, 1, 30),
			want:   []string{"FREQ=MONTHLY", "BYMONTHDAY=28,29,30", "BYSETPOS=-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := RuleString(&tt.rec, tt.anchor)
			require.NoError(t, err)
			for _, part := range tt.want {
				assert.Contains(t, got, part)
			}
		})
	}

	_, err := RuleString(nil, model.Date(2024, 1, 1))
	assert.Error(t, err)
	_, err = RuleString(&model.Recurrence{Freq: "YEARLY"}, model.Date(2024, 1, 1))
	assert.Error(t, err)
}

// A monthly rule on the 31st must clamp the way the calendar expands it.
func TestRuleStringMonthlyClampMatchesCalendar(t *testing.T) {
	t.Parallel()

	anchor := model.Date(2024, 1, 31)
	s, err := RuleString(&model.Recurrence{Freq: model.FreqMonthly, Interval: 1}, anchor)
	require.NoError(t, err)

	opt, err := rrule.StrToROption(s)
	require.NoError(t, err)
	opt.Dtstart = anchor
	rule, err := rrule.NewRRule(*opt)
	require.NoError(t, err)

	var got []string
	for _, at := range rule.Between(model.Date(2024, 1, 1), model.Date(2024, 6, 30), true) {
		got = append(got, model.DateKey(at))
	}
	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30", "2024-05-31", "2024-06-30"}, got)
}

func TestExportSeries(t *testing.T) {
	t.Parallel()

	title := "Planning"
	events := []model.Event{{
		ID:         "w",
		Title:      "Standup",
		Type:       model.TypeWorkStudy,
		Color:      "#3366ff",
		Date:       model.Date(2024, 1, 1),
		Recurrence: &model.Recurrence{Freq: model.FreqWeekly, Interval: 1, ByWeekday: []time.Weekday{time.Monday}},
		Exceptions: map[string]model.Exception{
			"2024-01-08": {Cancelled: true},
			"2024-01-15": {Override: &model.Patch{Title: &title}},
		},
	}}

	out, err := ExportSeries(events, "growcal", exportNow)
	require.NoError(t, err)

	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "X-WR-CALNAME:growcal")
	assert.Contains(t, out, "UID:w")
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20240101")
	assert.Contains(t, out, "RRULE:")
	assert.Contains(t, out, "EXDATE;VALUE=DATE:20240108")
	assert.Contains(t, out, "RECURRENCE-ID;VALUE=DATE:20240115")
	assert.Contains(t, out, "SUMMARY:Planning")
	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"))
}

func TestExportOccurrences(t *testing.T) {
	t.Parallel()

	occs := []model.Occurrence{
		{SourceEventID: "a", Date: model.Date(2024, 1, 1), Title: "One", Time: "08:15", Type: model.TypeHabit},
		{SourceEventID: "a", Date: model.Date(2024, 1, 2), Title: "Two", Type: model.TypeHabit},
	}
	out := ExportOccurrences(occs, "", exportNow)

	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"))
	assert.Contains(t, out, "UID:a@2024-01-01")
	assert.Contains(t, out, "DTSTART:20240101T081500")
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20240102")
	assert.NotContains(t, out, "X-WR-CALNAME")
}

func TestExportParseRoundTrip(t *testing.T) {
	t.Parallel()

	until := model.Date(2024, 3, 31)
	title := "Planning"
	color := "green"
	events := []model.Event{
		{
			ID:         "w",
			Title:      "Standup",
			Time:       "09:30",
			Type:       model.TypeWorkStudy,
			Color:      "blue",
			Date:       model.Date(2024, 1, 1),
			Recurrence: &model.Recurrence{Freq: model.FreqWeekly, Interval: 2, ByWeekday: []time.Weekday{time.Monday, time.Thursday}, Until: &until},
			Exceptions: map[string]model.Exception{
				"2024-01-04": {Cancelled: true},
				"2024-01-15": {Override: &model.Patch{Title: &title, Color: &color}},
			},
		},
		{
			ID:         "m",
			Title:      "Rent",
			Type:       model.TypeDeadline,
			Date:       model.Date(2024, 1, 31),
			Recurrence: &model.Recurrence{Freq: model.FreqMonthly, Interval: 1},
		},
		{ID: "once", Title: "Repot ficus", Type: model.TypeEvent, Date: model.Date(2024, 2, 10)},
	}

	body, err := ExportSeries(events, "growcal", exportNow)
	require.NoError(t, err)

	got, err := ParseICS([]byte(body), time.UTC)
	require.NoError(t, err)
	require.Len(t, got, 3)

	w := got[0]
	assert.Equal(t, "w", w.ID)
	assert.Equal(t, "Standup", w.Title)
	assert.Equal(t, "09:30", w.Time)
	assert.Equal(t, model.TypeWorkStudy, w.Type)
	assert.Equal(t, "blue", w.Color)
	assert.Equal(t, model.Date(2024, 1, 1), w.Date)
	require.NotNil(t, w.Recurrence)
	assert.Equal(t, model.FreqWeekly, w.Recurrence.Freq)
	assert.Equal(t, 2, w.Recurrence.Interval)
	assert.ElementsMatch(t, []time.Weekday{time.Monday, time.Thursday}, w.Recurrence.ByWeekday)
	require.NotNil(t, w.Recurrence.Until)
	assert.Equal(t, until, *w.Recurrence.Until)
	assert.Equal(t, model.Exception{Cancelled: true}, w.Exceptions["2024-01-04"])
	ov := w.Exceptions["2024-01-15"].Override
	require.NotNil(t, ov)
	assert.Equal(t, "Planning", *ov.Title)
	assert.Equal(t, "green", *ov.Color)
	assert.Nil(t, ov.Time)
	assert.Nil(t, ov.Type)

	m := got[1]
	assert.Equal(t, model.FreqMonthly, m.Recurrence.Freq)
	assert.Equal(t, model.Date(2024, 1, 31), m.Date)
	assert.Equal(t, model.TypeDeadline, m.Type)

	once := got[2]
	assert.Nil(t, once.Recurrence)
	assert.Equal(t, "", once.Time)
	assert.Equal(t, model.Date(2024, 2, 10), once.Date)
}

func TestParseICS(t *testing.T) {
	t.Parallel()

	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
		"BEGIN:VEVENT",
		"UID:utc",
		"DTSTART:20240101T233000Z",
		"SUMMARY:Late call",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:yearly",
		"DTSTART;VALUE=DATE:20240301",
		"RRULE:FREQ=YEARLY",
		"SUMMARY:Birthday",
		"CATEGORIES:milestone",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:No uid",
		"DTSTART;VALUE=DATE:20240301",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:utc",
		"DTSTART;VALUE=DATE:20240501",
		"SUMMARY:Duplicate",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:orphan",
		"RECURRENCE-ID;VALUE=DATE:20240101",
		"DTSTART;VALUE=DATE:20240101",
		"SUMMARY:Orphan",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	seoul := time.FixedZone("KST", 9*3600)
	got, err := ParseICS([]byte(body), seoul)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// 23:30 UTC is 08:30 the next day in UTC+9.
	assert.Equal(t, "utc", got[0].ID)
	assert.Equal(t, "Late call", got[0].Title)
	assert.Equal(t, model.Date(2024, 1, 2), got[0].Date)
	assert.Equal(t, "08:30", got[0].Time)
	assert.Equal(t, model.TypeEvent, got[0].Type)

	assert.Equal(t, "yearly", got[1].ID)
	assert.Nil(t, got[1].Recurrence)
	assert.Equal(t, model.TypeMilestone, got[1].Type)

	_, err = ParseICS(nil, time.UTC)
	assert.Error(t, err)
}

func TestParseRule(t *testing.T) {
	t.Parallel()

	until := func(y int, m time.Month, d int) *time.Time {
		u := model.Date(y, m, d)
		return &u
	}

	tests := []struct {
		name   string
		raw    string
		anchor time.Time
		want   *model.Recurrence
	}{
		{
			name:   "daily count",
			raw:    "FREQ=DAILY;COUNT=5",
			anchor: model.Date(2024, 1, 10),
			want:   &model.Recurrence{Freq: model.FreqDaily, Interval: 1, Until: until(2024, 1, 14)},
		},
		{
			name:   "weekly count with two days",
			raw:    "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;COUNT=3",
			anchor: model.Date(2024, 1, 1),
			want:   &model.Recurrence{Freq: model.FreqWeekly, Interval: 2, ByWeekday: []time.Weekday{time.Monday, time.Wednesday}, Until: until(2024, 1, 15)},
		},
		{
			name:   "monthly count clamps",
			raw:    "FREQ=MONTHLY;BYMONTHDAY=28,29,30,31;BYSETPOS=-1;COUNT=2",
			anchor: model.Date(2024, 1, 31),
			want:   &model.Recurrence{Freq: model.FreqMonthly, Interval: 1, Until: until(2024, 2, 29)},
		},
		{
			name:   "count earlier than until",
			raw:    "FREQ=DAILY;UNTIL=20240131T000000Z;COUNT=2",
			anchor: model.Date(2024, 1, 10),
			want:   &model.Recurrence{Freq: model.FreqDaily, Interval: 1, Until: until(2024, 1, 11)},
		},
		{
			name:   "monthly last day",
			raw:    "FREQ=MONTHLY;BYMONTHDAY=-1",
			anchor: model.Date(2024, 1, 31),
			want:   &model.Recurrence{Freq: model.FreqMonthly, Interval: 1},
		},
		{
			name:   "weekly every other week with default week start",
			raw:    "FREQ=WEEKLY;INTERVAL=2;BYDAY=TU,TH",
			anchor: model.Date(2024, 1, 2),
			want:   &model.Recurrence{Freq: model.FreqWeekly, Interval: 2, ByWeekday: []time.Weekday{time.Tuesday, time.Thursday}},
		},
		{name: "monthly nth weekday", raw: "FREQ=MONTHLY;BYDAY=2MO", anchor: model.Date(2024, 1, 8)},
		{name: "monthly last friday", raw: "FREQ=MONTHLY;BYDAY=FR;BYSETPOS=-1", anchor: model.Date(2024, 1, 26)},
		{name: "weekly ordinal", raw: "FREQ=WEEKLY;BYDAY=1MO", anchor: model.Date(2024, 1, 1)},
		{name: "monthly other day", raw: "FREQ=MONTHLY;BYMONTHDAY=1,15", anchor: model.Date(2024, 1, 1)},
		{name: "by month", raw: "FREQ=DAILY;BYMONTH=6", anchor: model.Date(2024, 1, 1)},
		{name: "daily on weekdays", raw: "FREQ=DAILY;BYDAY=MO,TU", anchor: model.Date(2024, 1, 1)},
		{name: "sunday straddles monday weeks", raw: "FREQ=WEEKLY;INTERVAL=2;BYDAY=SA,SU", anchor: model.Date(2024, 1, 6)},
		{name: "yearly", raw: "FREQ=YEARLY", anchor: model.Date(2024, 3, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseRule(tt.raw, tt.anchor)
			if tt.want == nil {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseICSFallsBackToSingleEvent(t *testing.T) {
	t.Parallel()

	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
		"BEGIN:VEVENT",
		"UID:club",
		"DTSTART;VALUE=DATE:20240108",
		"RRULE:FREQ=MONTHLY;BYDAY=2MO",
		"SUMMARY:Garden club",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:five",
		"DTSTART:20240110T090000",
		"RRULE:FREQ=DAILY;COUNT=5",
		"SUMMARY:Seedlings",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	got, err := ParseICS([]byte(body), time.UTC)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "club", got[0].ID)
	assert.Nil(t, got[0].Recurrence)
	assert.Equal(t, model.Date(2024, 1, 8), got[0].Date)

	require.NotNil(t, got[1].Recurrence)
	require.NotNil(t, got[1].Recurrence.Until)
	assert.Equal(t, model.Date(2024, 1, 14), *got[1].Recurrence.Until)
	assert.Equal(t, "09:00", got[1].Time)
}

func TestFetcherUsesETag(t *testing.T) {
	t.Parallel()

	const feed = "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client())
	ctx := context.Background()

	body, err := f.Fetch(ctx, srv.URL+"/cal.ics")
	require.NoError(t, err)
	assert.Equal(t, feed, string(body))

	body, err = f.Fetch(ctx, srv.URL+"/cal.ics")
	require.NoError(t, err)
	assert.Equal(t, feed, string(body))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), notModified.Load())
}

func TestFetcherErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher(nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "403")

	_, err = f.Fetch(context.Background(), "")
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://example.com/...(redacted)", RedactURL("https://example.com/private/abc.ics?token=1"))
	assert.Equal(t, "ics://...(redacted)", RedactURL("example.com/x"))
}
