package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	appLog "growcal/internal/log"
)

// exportTimeout bounds a single scheduled export run.
const exportTimeout = 30 * time.Second

// ExportJob writes the calendar feed to a file.
type ExportJob struct {
	Calendar *Calendar
	Path     string
	Mode     string
}

// Run renders the feed and replaces Path atomically.
func (j *ExportJob) Run(ctx context.Context) error {
	if j.Path == "" {
		return errors.New("export path is empty")
	}
	body, err := j.Calendar.ExportICS(ctx, j.Mode)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(j.Path, []byte(body)); err != nil {
		return err
	}
	appLog.Info("ics export written", "path", j.Path, "mode", j.Mode, "bytes", len(body))
	return nil
}

// Func adapts the job for the scheduler. Failures are logged.
func (j *ExportJob) Func(ctx context.Context) func() {
	return func() {
		runCtx, cancel := context.WithTimeout(ctx, exportTimeout)
		defer cancel()
		if err := j.Run(runCtx); err != nil {
			appLog.Error("scheduled ics export failed", err, "path", j.Path)
		}
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".growcal-export-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
