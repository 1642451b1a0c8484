package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store whenever the config file changes on disk and
// invokes onChange after each successful reload. It blocks until ctx is
// cancelled. Editors often replace files rather than writing in place,
// so the watch is on the containing directory.
func (s *Store) Watch(ctx context.Context, log *slog.Logger, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	// Coalesce bursts of events from a single save.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != configFileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "error", err)
		case <-pending:
			pending = nil
			if err := s.reload(); err != nil {
				log.Warn("config reload failed", "error", err)
				continue
			}
			log.Info("config reloaded", "path", s.path)
			if onChange != nil {
				onChange()
			}
		}
	}
}
