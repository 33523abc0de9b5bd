package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of events editors emit when saving
// (write, chmod, rename-into-place) into a single reload.
const debounceWindow = 250 * time.Millisecond

// Watch monitors the Holder's config file and hot-reloads it on change.
// A file that fails to parse or validate is logged and skipped; the previous
// config stays active. Watch blocks until ctx is canceled.
func Watch(ctx context.Context, holder *Holder, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace the file via
	// rename, which drops a watch on the file itself.
	dir := filepath.Dir(holder.Path())
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer

	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Name != holder.Path() {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case <-timerC:
			timer = nil
			timerC = nil

			cfg, err := Load(holder.Path())
			if err != nil {
				logger.Warn("config reload failed, keeping previous config",
					slog.String("path", holder.Path()), slog.Any("error", err))
				continue
			}

			holder.Update(cfg)
			logger.Info("config reloaded", slog.String("path", holder.Path()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.Any("error", err))
		}
	}
}
