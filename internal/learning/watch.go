package learning

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads learning files edited outside the process until ctx is
// done. Rapid successive writes to one file are coalesced.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("learning watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	slog.Info("watching learning dir", "dir", s.dir)

	pending := make(map[string]time.Time)
	tick := time.NewTicker(watchDebounce / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(ev.Name)
			if watched(name) {
				pending[name] = time.Now()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("learning watcher error", "err", err)
		case now := <-tick.C:
			for name, at := range pending {
				if now.Sub(at) < watchDebounce {
					continue
				}
				delete(pending, name)
				if err := s.reload(name); err != nil {
					slog.Warn("reload learning file", "file", name, "err", err)
				}
			}
		}
	}
}

func watched(name string) bool {
	switch name {
	case PreferencesFile, EditPatternsFile, WorkflowsFile, BehaviorsFile, ObservationsFile:
		return true
	}
	return false
}
