package service

import (
	"context"
	"errors"
	"time"

	"growcal/internal/ics"
	appLog "growcal/internal/log"
)

// syncTimeout bounds one pass over all sources.
const syncTimeout = 2 * time.Minute

// SyncJob merges remote ICS feeds into the calendar.
type SyncJob struct {
	Calendar *Calendar
	Sources  []string
}

// Run imports every source in order. A failing source is logged and does
// not stop the others; the joined errors are returned.
func (j *SyncJob) Run(ctx context.Context) error {
	var errs []error
	for _, src := range j.Sources {
		added, replaced, err := j.Calendar.ImportURL(ctx, src)
		if err != nil {
			appLog.Error("ics sync failed", err, "url", ics.RedactURL(src))
			errs = append(errs, err)
			continue
		}
		appLog.Debug("ics sync done", "url", ics.RedactURL(src), "added", added, "replaced", replaced)
	}
	return errors.Join(errs...)
}

// Func adapts the job for the scheduler.
func (j *SyncJob) Func(ctx context.Context) func() {
	return func() {
		runCtx, cancel := context.WithTimeout(ctx, syncTimeout)
		defer cancel()
		_ = j.Run(runCtx)
	}
}
