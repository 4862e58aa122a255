package skills

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry when files under the skills directory change.
// Events are debounced so a burst of writes (editor save, git checkout)
// triggers one reload. Blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(r.dir); err != nil {
		// Directory may not exist yet; nothing to watch.
		if os.IsNotExist(err) {
			<-ctx.Done()
			return nil
		}
		return err
	}
	// Each skill is a subdirectory; watch those too so SKILL.md edits fire.
	if entries, err := os.ReadDir(r.dir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = w.Add(r.dir + string(os.PathSeparator) + e.Name())
			}
		}
	}

	const debounce = 300 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// New skill directories need their own watch.
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("skills watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			if err := r.Load(); err != nil {
				slog.Warn("skills reload failed", "error", err)
				continue
			}
			r.logReload()
		}
	}
}
