package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growcal/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewMemory(t *testing.T) {
	s := newTestStore(t)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentVersion, version)
}

func TestNewWithPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "growcal.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "k", "v"))
	require.NoError(t, s.Close())

	// Reopening runs migrations again without losing data.
	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "grower:entities:calendar", "[]"))
	require.NoError(t, s.Put(ctx, "grower:entities:plants", "[1]"))
	require.NoError(t, s.Put(ctx, "other", "x"))
	require.NoError(t, s.Put(ctx, "grower:entities:plants", "[2]"))

	v, ok, err := s.Get(ctx, "grower:entities:plants")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[2]", v)

	keys, err := s.Keys(ctx, "grower:")
	require.NoError(t, err)
	assert.Equal(t, []string{"grower:entities:calendar", "grower:entities:plants"}, keys)

	require.NoError(t, s.Delete(ctx, "grower:entities:plants"))
	require.NoError(t, s.Delete(ctx, "grower:entities:plants"))
	_, ok, err = s.Get(ctx, "grower:entities:plants")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadEventsMissingRecord(t *testing.T) {
	s := newTestStore(t)

	events, err := s.LoadEvents(context.Background(), time.UTC)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestLoadEventsMalformedRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, CalendarKey, `{"not":"a list"}`))

	events, err := s.LoadEvents(ctx, time.UTC)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSaveLoadEventsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loc := time.FixedZone("KST", 9*3600)

	until := model.Date(2024, 3, 31)
	title := "Moved standup"
	events := []model.Event{
		{
			ID:       "w",
			Title:    "Standup",
			Time:     "09:00",
			Type:     model.TypeWorkStudy,
			Color:    "#3366ff",
			Date:     model.Date(2024, 1, 1),
			SeriesID: "root",
			Recurrence: &model.Recurrence{
				Freq:      model.FreqWeekly,
				Interval:  2,
				ByWeekday: []time.Weekday{time.Monday, time.Thursday},
				Until:     &until,
			},
			Exceptions: map[string]model.Exception{
				"2024-01-15": {Cancelled: true},
				"2024-01-29": {Override: &model.Patch{Title: &title}},
			},
		},
		{ID: "once", Title: "Repot ficus", Type: model.TypeEvent, Date: model.Date(2024, 2, 10)},
	}

	require.NoError(t, s.SaveEvents(ctx, loc, events))
	got, err := s.LoadEvents(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, events, got)
}
