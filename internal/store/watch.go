package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of file events (an import appends one line
// per record) into a single reload.
const watchDebounce = 500 * time.Millisecond

// Watch reloads the table whenever its file changes on disk, until ctx is
// cancelled. It watches the parent directory so the table file can appear
// after startup. Reloads triggered by this process's own writes are harmless
// wasted work: load holds the table mutex and reads a consistent snapshot.
func (t *Table) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = w.Close()
	}()
	if err := w.Add(filepath.Dir(t.path)); err != nil {
		return err
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name != t.path || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Table watcher error", "path", t.path, "err", err)
		case <-reload:
			before := t.Len()
			if err := t.Reload(); err != nil {
				slog.Error("Failed to reload table", "path", t.path, "err", err)
				continue
			}
			if after := t.Len(); after != before {
				slog.Info("Table reloaded from disk", "path", t.path, "rows", after)
			}
		}
	}
}
