package packages

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"mcphub/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it changes and passes the result to onChange.
// The directory is watched rather than the file so editors that replace the
// file on save are followed. Watch blocks until ctx ends.
func Watch(ctx context.Context, path string, onChange func(Table, error)) error {
	log := logger.WithComponent("packages")

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	log.Debug("watching packages file", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != filepath.Base(abs) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			t, err := LoadFile(abs)
			if err != nil {
				log.Warn("packages file reload failed", "path", abs, "error", err)
			} else {
				log.Info("packages file reloaded", "path", abs, "packages", len(t))
			}
			onChange(t, err)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Debug("fsnotify error", slog.String("err", err.Error()))
		}
	}
}

// WatchRegistry keeps r in sync with path until ctx ends. Every table in
// overlay is merged over each reload, so entries that do not come from the
// file survive. Failed reloads leave the previous table in place.
func WatchRegistry(ctx context.Context, path string, r *Registry, overlay ...Table) error {
	return Watch(ctx, path, func(t Table, err error) {
		if err != nil {
			return
		}
		for _, o := range overlay {
			t = t.Merge(o)
		}
		r.Replace(t)
	})
}
