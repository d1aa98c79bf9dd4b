package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growcal/internal/model"
)

func TestDecodeEventsNotAList(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{``, `null`, `{}`, `"x"`, `not json`, `42`} {
		events := DecodeEvents([]byte(payload), time.UTC)
		assert.NotNil(t, events, payload)
		assert.Empty(t, events, payload)
	}
}

func TestDecodeEventsSkipsMalformed(t *testing.T) {
	t.Parallel()

	payload := `[
		{"id":"ok","title":"Fine","date":"2024-01-01T00:00:00.000Z"},
		{"title":"no id","date":"2024-01-01"},
		{"id":"no-title","date":"2024-01-01"},
		{"id":"no-date","title":"x"},
		{"id":"bad-date","title":"x","date":"yesterday"},
		"just a string",
		{"id":"ok","title":"Duplicate","date":"2024-02-02"}
	]`
	events := DecodeEvents([]byte(payload), time.UTC)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].ID)
	assert.Equal(t, "Fine", events[0].Title)
	assert.Equal(t, model.TypeEvent, events[0].Type)
}

func TestDecodeEventsClampsRecurrence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  string
		want *model.Recurrence
	}{
		{
			name: "non-numeric interval",
			rec:  `{"freq":"DAILY","interval":"two"}`,
			want: &model.Recurrence{Freq: model.FreqDaily, Interval: 1},
		},
		{
			name: "zero interval",
			rec:  `{"freq":"DAILY","interval":0}`,
			want: &model.Recurrence{Freq: model.FreqDaily, Interval: 1},
		},
		{
			name: "negative interval",
			rec:  `{"freq":"MONTHLY","interval":-3}`,
			want: &model.Recurrence{Freq: model.FreqMonthly, Interval: 1},
		},
		{
			name: "unknown freq",
			rec:  `{"freq":"YEARLY","interval":2}`,
			want: &model.Recurrence{Freq: model.FreqNone, Interval: 2},
		},
		{
			name: "weekday filtering",
			rec:  `{"freq":"WEEKLY","byWeekday":[1,7,-1,"3",2.5,6]}`,
			want: &model.Recurrence{Freq: model.FreqWeekly, Interval: 1, ByWeekday: []time.Weekday{time.Monday, time.Saturday}},
		},
		{
			name: "until",
			rec:  `{"freq":"DAILY","until":"2024-03-01"}`,
			want: &model.Recurrence{Freq: model.FreqDaily, Interval: 1, Until: ptrTime(model.Date(2024, 3, 1))},
		},
		{
			name: "not an object",
			rec:  `"DAILY"`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload := `[{"id":"a","title":"t","date":"2024-01-01","recurrence":` + tt.rec + `}]`
			events := DecodeEvents([]byte(payload), time.UTC)
			require.Len(t, events, 1)
			assert.Equal(t, tt.want, events[0].Recurrence)
		})
	}
}

func TestDecodeEventsExceptions(t *testing.T) {
	t.Parallel()

	payload := `[{"id":"a","title":"t","date":"2024-01-01","type":"party","exceptions":[
		{"dateKey":"2024-01-08","cancelled":true},
		{"dateKey":"2024-01-08","override":{"title":"ignored"}},
		{"dateKey":"garbage","cancelled":true},
		{"cancelled":true},
		7,
		{"dateKey":"2024-01-15","override":{"title":"Retro","type":"milestone","color":"red"}}
	]}]`
	events := DecodeEvents([]byte(payload), time.UTC)
	require.Len(t, events, 1)
	ev := events[0]

	assert.Equal(t, model.TypeEvent, ev.Type)
	require.Len(t, ev.Exceptions, 2)
	assert.Equal(t, model.Exception{Cancelled: true}, ev.Exceptions["2024-01-08"])

	ov := ev.Exceptions["2024-01-15"].Override
	require.NotNil(t, ov)
	assert.Equal(t, "Retro", *ov.Title)
	assert.Equal(t, model.TypeMilestone, *ov.Type)
	assert.Equal(t, "red", *ov.Color)
	assert.Nil(t, ov.Time)
}

func TestDecodeEventsReadsInstantInLocation(t *testing.T) {
	t.Parallel()

	// Local midnight of 2024-01-01 in UTC+9, as a browser would store it.
	payload := `[{"id":"a","title":"t","date":"2023-12-31T15:00:00.000Z"}]`

	seoul := time.FixedZone("KST", 9*3600)
	assert.Equal(t, model.Date(2024, 1, 1), DecodeEvents([]byte(payload), seoul)[0].Date)
	assert.Equal(t, model.Date(2023, 12, 31), DecodeEvents([]byte(payload), time.UTC)[0].Date)
}

func TestEncodeEventsShape(t *testing.T) {
	t.Parallel()

	ny := time.FixedZone("EST", -5*3600)
	events := []model.Event{{
		ID:    "a",
		Title: "t",
		Type:  model.TypeHabit,
		Date:  model.Date(2024, 1, 1),
		Exceptions: map[string]model.Exception{
			"2024-01-09": {Cancelled: true},
			"2024-01-02": {Cancelled: true},
		},
	}}

	data, err := EncodeEvents(events, ny)
	require.NoError(t, err)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 1)
	assert.Equal(t, "2024-01-01T05:00:00.000Z", out[0]["date"])
	assert.Equal(t, "habit", out[0]["type"])
	assert.NotContains(t, out[0], "recurrence")
	assert.NotContains(t, out[0], "seriesId")

	exs := out[0]["exceptions"].([]any)
	require.Len(t, exs, 2)
	assert.Equal(t, "2024-01-02", exs[0].(map[string]any)["dateKey"])
	assert.Equal(t, "2024-01-09", exs[1].(map[string]any)["dateKey"])

	data, err = EncodeEvents([]model.Event{{ID: "b", Title: "t", Date: model.Date(2024, 1, 1)}}, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"exceptions":[]`)
}

func ptrTime(t time.Time) *time.Time { return &t }
