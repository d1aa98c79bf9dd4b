package store

import (
	"context"
	"fmt"
	"time"

	"growcal/internal/model"
)

// LoadEvents reads the calendar collection. A missing or malformed record
// yields an empty collection; only storage failures are returned as errors.
func (s *Store) LoadEvents(ctx context.Context, loc *time.Location) ([]model.Event, error) {
	raw, ok, err := s.Get(ctx, CalendarKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.Event{}, nil
	}
	return DecodeEvents([]byte(raw), loc), nil
}

// SaveEvents replaces the calendar collection.
func (s *Store) SaveEvents(ctx context.Context, loc *time.Location, events []model.Event) error {
	data, err := EncodeEvents(events, loc)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	return s.Put(ctx, CalendarKey, string(data))
}
