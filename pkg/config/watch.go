package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/SokratisVidros/eurechat/internal/logger"
)

// WatchLogLevel watches the config file and applies logging level and
// format changes without a restart. Only the logging section is reloaded;
// listen and checker changes still require a restart.
//
// Returns a stop function. A missing or unwatchable file disables watching
// with an error instead of failing startup.
func WatchLogLevel(path string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}

	// Watch the directory: editors replace files on save, which drops a
	// watch set on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config watcher: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				cfg, err := Load(path)
				if err != nil {
					logger.Warn("config reload failed", logger.Err(err))
					continue
				}
				logger.SetLevel(cfg.Logging.Level)
				logger.SetFormat(cfg.Logging.Format)
				logger.Info("logging configuration reloaded",
					"level", cfg.Logging.Level, "format", cfg.Logging.Format)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", logger.Err(err))
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}
