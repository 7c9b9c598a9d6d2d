package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"juris/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce batches the burst of events editors emit on save.
const watchDebounce = 300 * time.Millisecond

// Watch reloads the overlay whenever its file changes, until ctx is done.
// It blocks; run it in its own goroutine. The parent directory is watched
// so atomic-rename saves are seen.
func (r *Registry) Watch(ctx context.Context) error {
	path := r.Path()
	if path == "" {
		return fmt.Errorf("no persona overlay loaded")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.AgentWarn("Persona watcher: cannot create %s: %v", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logging.Agent("Persona watcher: watching %s", abs)

	// pending is the time of the last relevant event; zero when idle.
	var pending time.Time
	ticker := time.NewTicker(watchDebounce / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.AgentDebug("Persona watcher: stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logging.AgentDebug("Persona watcher: %s %s", event.Op, event.Name)
			pending = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.AgentWarn("Persona watcher error: %v", err)

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < watchDebounce {
				continue
			}
			pending = time.Time{}
			if err := r.Load(path); err != nil {
				// Keep serving the previous set on a bad edit.
				logging.AgentWarn("Persona overlay reload failed: %v", err)
				continue
			}
			logging.Agent("Persona overlay reloaded")
		}
	}
}
