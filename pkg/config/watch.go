package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay debounces bursts of file events into one reload.
const DefaultReloadDelay = 250 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes each
// valid result to onChange. Invalid files are logged and skipped. Watching
// stops when ctx is done.
//
// The parent directory is watched rather than the file so that editors that
// replace the file by rename are picked up.
func Watch(ctx context.Context, path string, logger zerolog.Logger, onChange func(*Config)) error {
	return watch(ctx, path, DefaultReloadDelay, logger, onChange)
}

func watch(ctx context.Context, path string, delay time.Duration, logger zerolog.Logger, onChange func(*Config)) error {
	if _, err := FormatOf(path); err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	logger = logger.With().Str("component", "config-watcher").Str("path", abs).Logger()

	go func() {
		defer watcher.Close()

		var reloadTimer *time.Timer
		defer func() {
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				logger.Debug().Str("op", event.Op.String()).Msg("Config file changed")

				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(delay, func() {
					if ctx.Err() != nil {
						return
					}
					cfg, err := Load(abs)
					if err != nil {
						logger.Error().Err(err).Msg("Failed to reload config")
						return
					}
					logger.Info().Msg("Config reloaded")
					onChange(cfg)
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("Watcher error")
			}
		}
	}()

	logger.Info().Msg("Started watching config")
	return nil
}
