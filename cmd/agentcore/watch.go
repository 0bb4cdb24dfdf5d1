package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arcflow/agentcore/internal/config"
	"github.com/arcflow/agentcore/internal/observability"
)

// watchConfig re-validates the configuration file whenever it changes on
// disk, logging the outcome. Changes don't hot-apply (the wired
// components hold their construction-time config); the log line tells the
// operator whether a restart would pick the new file up cleanly.
func watchConfig(ctx context.Context, path string, logger *observability.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors replace files by rename,
	// which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	target := filepath.Clean(path)
	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, func() {
					if _, err := config.Load(path); err != nil {
						logger.Warn(ctx, "config changed but does not validate", "path", path, "error", err)
						return
					}
					logger.Info(ctx, "config changed and validates; restart to apply", "path", path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn(ctx, "config watcher error", "error", err)
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}
