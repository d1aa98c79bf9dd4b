package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"growcal/internal/ics"
	appLog "growcal/internal/log"
	"growcal/internal/model"
	"growcal/internal/recur"
)

var (
	// ErrInvalidEvent wraps validation failures of user-supplied attributes.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrDuplicateID is returned when creating an event whose ID is taken.
	ErrDuplicateID = errors.New("event id already exists")
)

// Repository persists the calendar collection.
type Repository interface {
	LoadEvents(ctx context.Context, loc *time.Location) ([]model.Event, error)
	SaveEvents(ctx context.Context, loc *time.Location, events []model.Event) error
}

// Options configures a Calendar.
type Options struct {
	// Location is the zone whose calendar dates the collection is kept in.
	Location *time.Location
	// HorizonDays bounds Upcoming.
	HorizonDays int
	// ExportHorizonDays bounds the occurrences export.
	ExportHorizonDays int
	// UpcomingLimit is the default Upcoming size.
	UpcomingLimit int
	// MaxOccurrences caps each series in one expansion.
	MaxOccurrences int
	// Fetcher retrieves remote feeds for ImportURL. Nil gets a default one.
	Fetcher *ics.Fetcher
	// Name is written into exported feeds.
	Name string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Calendar runs every read and mutation of the collection. Mutations are
// serialized: load, apply, save happen under one lock.
type Calendar struct {
	repo Repository
	opts Options

	mu sync.Mutex
}

// NewCalendar creates a Calendar over repo.
func NewCalendar(repo Repository, opts Options) *Calendar {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 30
	}
	if opts.ExportHorizonDays <= 0 {
		opts.ExportHorizonDays = 90
	}
	if opts.UpcomingLimit <= 0 {
		opts.UpcomingLimit = 3
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = 5000
	}
	if opts.Fetcher == nil {
		opts.Fetcher = ics.NewFetcher(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Calendar{repo: repo, opts: opts}
}

// Location returns the calendar's zone.
func (c *Calendar) Location() *time.Location { return c.opts.Location }

// Today returns the current calendar date in the calendar's zone.
func (c *Calendar) Today() time.Time {
	return model.Day(c.opts.Now().In(c.opts.Location))
}

// Events returns the series definitions.
func (c *Calendar) Events(ctx context.Context) ([]model.Event, error) {
	return c.repo.LoadEvents(ctx, c.opts.Location)
}

// Event returns a single series definition.
func (c *Calendar) Event(ctx context.Context, id string) (model.Event, error) {
	events, err := c.Events(ctx)
	if err != nil {
		return model.Event{}, err
	}
	idx := slices.IndexFunc(events, func(ev model.Event) bool { return ev.ID == id })
	if idx < 0 {
		return model.Event{}, fmt.Errorf("%w: %s", recur.ErrEventNotFound, id)
	}
	return events[idx], nil
}

// Create validates ev and appends it to the collection. An empty ID is
// filled with a fresh UUID and an empty type defaults to "event".
func (c *Calendar) Create(ctx context.Context, ev model.Event) (model.Event, error) {
	ev.Title = strings.TrimSpace(ev.Title)
	if ev.Type == "" {
		ev.Type = model.TypeEvent
	}
	if !ev.Date.IsZero() {
		ev.Date = model.Day(ev.Date)
	}
	if err := model.ValidateEvent(ev); err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.Exceptions = nil

	err := c.mutate(ctx, func(events []model.Event) ([]model.Event, error) {
		if slices.ContainsFunc(events, func(e model.Event) bool { return e.ID == ev.ID }) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, ev.ID)
		}
		return append(events, ev), nil
	})
	if err != nil {
		return model.Event{}, err
	}
	appLog.Info("event created", "id", ev.ID, "recurring", ev.Recurring())
	return ev, nil
}

// Occurrences expands the collection over [from, to]. Series that reach
// MaxOccurrences are listed in TruncatedEvents.
func (c *Calendar) Occurrences(ctx context.Context, from, to time.Time) (recur.ExpandResult, error) {
	events, err := c.Events(ctx)
	if err != nil {
		return recur.ExpandResult{}, err
	}
	return recur.ExpandAll(events, recur.ExpandConfig{
		RangeStart:             from,
		RangeEnd:               to,
		MaxOccurrencesPerEvent: c.opts.MaxOccurrences,
	})
}

// Upcoming lists the next occurrences from today within the horizon. A
// limit of zero or less uses the configured default.
func (c *Calendar) Upcoming(ctx context.Context, limit int) ([]model.Occurrence, error) {
	if limit <= 0 {
		limit = c.opts.UpcomingLimit
	}
	events, err := c.Events(ctx)
	if err != nil {
		return nil, err
	}
	return recur.Upcoming(events, c.Today(), c.opts.HorizonDays, limit), nil
}

// Scopes lists the scopes that may be offered for the occurrence of id at
// anchor.
func (c *Calendar) Scopes(ctx context.Context, id string, anchor time.Time) ([]recur.Scope, error) {
	ev, err := c.Event(ctx, id)
	if err != nil {
		return nil, err
	}
	if !recur.IsOccurrence(ev, anchor) {
		return nil, fmt.Errorf("%w: %s on %s", recur.ErrNotAnOccurrence, id, model.DateKey(model.Day(anchor)))
	}
	return recur.Scopes(ev), nil
}

// Edit applies edit to event id at anchor with the given scope.
func (c *Calendar) Edit(ctx context.Context, id string, anchor time.Time, scope recur.Scope, edit recur.Edit) error {
	err := c.mutate(ctx, func(events []model.Event) ([]model.Event, error) {
		if err := validateEdit(events, id, anchor, scope, edit); err != nil {
			return nil, err
		}
		return recur.ApplyEdit(events, id, anchor, scope, edit)
	})
	if err != nil {
		return err
	}
	appLog.Info("event edited", "id", id, "anchor", model.DateKey(model.Day(anchor)), "scope", string(scope))
	return nil
}

// Delete removes the occurrence(s) of event id at anchor with the given
// scope.
func (c *Calendar) Delete(ctx context.Context, id string, anchor time.Time, scope recur.Scope) error {
	err := c.mutate(ctx, func(events []model.Event) ([]model.Event, error) {
		return recur.ApplyDelete(events, id, anchor, scope)
	})
	if err != nil {
		return err
	}
	appLog.Info("event deleted", "id", id, "anchor", model.DateKey(model.Day(anchor)), "scope", string(scope))
	return nil
}

// Import merges events into the collection by ID: known IDs are replaced,
// others appended.
func (c *Calendar) Import(ctx context.Context, incoming []model.Event) (added, replaced int, err error) {
	err = c.mutate(ctx, func(events []model.Event) ([]model.Event, error) {
		added, replaced = 0, 0
		for _, ev := range incoming {
			if err := model.ValidateEvent(ev); err != nil {
				appLog.Debug("import: skipping invalid event", "id", ev.ID, "err", err.Error())
				continue
			}
			idx := slices.IndexFunc(events, func(e model.Event) bool { return e.ID == ev.ID })
			if idx >= 0 {
				events[idx] = ev
				replaced++
				continue
			}
			events = append(events, ev)
			added++
		}
		return events, nil
	})
	if err != nil {
		return 0, 0, err
	}
	appLog.Info("import completed", "added", added, "replaced", replaced)
	return added, replaced, nil
}

// ImportICS parses an iCalendar payload and merges it with Import.
func (c *Calendar) ImportICS(ctx context.Context, body []byte) (added, replaced int, err error) {
	events, err := ics.ParseICS(body, c.opts.Location)
	if err != nil {
		return 0, 0, fmt.Errorf("parse ics: %w", err)
	}
	return c.Import(ctx, events)
}

// ImportURL fetches the feed at url and merges it with ImportICS. The
// fetcher is shared, so an unchanged feed is served from its cache.
func (c *Calendar) ImportURL(ctx context.Context, url string) (added, replaced int, err error) {
	body, err := c.opts.Fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, 0, err
	}
	return c.ImportICS(ctx, body)
}

// Export mode names.
const (
	ExportSeries      = "series"
	ExportOccurrences = "occurrences"
)

// ExportICS renders the collection as an iCalendar feed. "occurrences" mode
// expands today through the export horizon; any other mode exports series.
func (c *Calendar) ExportICS(ctx context.Context, mode string) (string, error) {
	events, err := c.Events(ctx)
	if err != nil {
		return "", err
	}
	now := c.opts.Now()
	if mode != ExportOccurrences {
		return ics.ExportSeries(events, c.opts.Name, now)
	}
	today := c.Today()
	res, err := recur.ExpandAll(events, recur.ExpandConfig{
		RangeStart:             today,
		RangeEnd:               model.AddDays(today, c.opts.ExportHorizonDays),
		MaxOccurrencesPerEvent: c.opts.MaxOccurrences,
	})
	if err != nil {
		return "", err
	}
	return ics.ExportOccurrences(res.Occurrences, c.opts.Name, now), nil
}

// mutate loads the collection, applies fn and saves the result while
// holding the write lock.
func (c *Calendar) mutate(ctx context.Context, fn func([]model.Event) ([]model.Event, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	events, err := c.repo.LoadEvents(ctx, c.opts.Location)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	next, err := fn(events)
	if err != nil {
		return err
	}
	if err := c.repo.SaveEvents(ctx, c.opts.Location, next); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	return nil
}

// validateEdit checks the attributes the edit would produce. Lookup and
// scope errors are left to the engine.
func validateEdit(events []model.Event, id string, anchor time.Time, scope recur.Scope, edit recur.Edit) error {
	idx := slices.IndexFunc(events, func(ev model.Event) bool { return ev.ID == id })
	if idx < 0 {
		return nil
	}
	ev := events[idx].ApplyPatch(edit.Patch)
	switch scope {
	case recur.ScopeFuture:
		ev.Date = model.Day(anchor)
	case recur.ScopeSeries:
		if edit.Date != nil {
			ev.Date = model.Day(*edit.Date)
		}
	}
	if scope != recur.ScopeOccurrence {
		switch {
		case edit.ClearRecurrence:
			ev.Recurrence = nil
		case edit.Recurrence != nil:
			ev.Recurrence = edit.Recurrence
		}
	}
	if err := model.ValidateEvent(ev); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}
