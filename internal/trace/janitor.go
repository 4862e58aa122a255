package trace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// IndexPruner removes index rows for trace files the janitor deletes.
// Implemented by the store backends; nil disables index pruning.
type IndexPruner interface {
	Delete(ctx context.Context, traceID string) error
}

// Janitor prunes trace files older than the retention window on a cron
// schedule. RetentionDays <= 0 disables sweeping entirely.
type Janitor struct {
	Dir           string
	Schedule      string
	RetentionDays int
	Index         IndexPruner

	now func() time.Time
}

// Run blocks until ctx is done, sweeping at every schedule tick.
func (j *Janitor) Run(ctx context.Context) error {
	if j.RetentionDays <= 0 {
		slog.Info("trace janitor disabled", "retention_days", j.RetentionDays)
		<-ctx.Done()
		return ctx.Err()
	}
	if !gronx.New().IsValid(j.Schedule) {
		return fmt.Errorf("invalid janitor schedule %q", j.Schedule)
	}
	slog.Info("trace janitor started", "schedule", j.Schedule, "retention_days", j.RetentionDays)

	for {
		next, err := gronx.NextTick(j.Schedule, false)
		if err != nil {
			return fmt.Errorf("janitor next tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		removed, err := j.Sweep(ctx)
		if err != nil {
			slog.Warn("trace sweep failed", "error", err)
			continue
		}
		if removed > 0 {
			slog.Info("trace sweep pruned old traces", "removed", removed)
		}
	}
}

// Sweep deletes trace files whose recorded start time is older than the
// retention window, along with their index rows. Returns the number of
// files removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	nowFn := j.now
	if nowFn == nil {
		nowFn = time.Now
	}
	cutoff := nowFn().AddDate(0, 0, -j.RetentionDays)

	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "trace_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(j.Dir, name)
		id := strings.TrimSuffix(name, ".json")

		start, ok := startTimeOf(path, e)
		if !ok || !start.Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			slog.Warn("trace prune failed", "trace_id", id, "error", err)
			continue
		}
		removed++
		if j.Index != nil {
			if err := j.Index.Delete(ctx, id); err != nil {
				slog.Warn("trace index prune failed", "trace_id", id, "error", err)
			}
		}
	}
	return removed, nil
}

// startTimeOf prefers the trace's own start_time; unreadable documents fall
// back to the file's mtime so corrupt leftovers still age out.
func startTimeOf(path string, entry os.DirEntry) (time.Time, bool) {
	if doc, err := ReadFile(path); err == nil && !doc.Metadata.StartTime.IsZero() {
		return doc.Metadata.StartTime, true
	}
	info, err := entry.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
