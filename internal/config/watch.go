package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
)

const reloadDebounce = 500 * time.Millisecond

// Watch reloads the configuration whenever the file changes until ctx is done.
// The directory is watched rather than the file because saves replace it by rename.
func (m *Manager) Watch(ctx context.Context) error {
	logger := log.WithComponent("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(m.configDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	logger.Info().Str("path", m.configPath).Msg("watching config file for changes")

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
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
				if filepath.Clean(event.Name) != filepath.Clean(m.configPath) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					if err := m.Reload(); err != nil {
						logger.Error().Err(err).Msg("config reload failed, keeping previous config")
						return
					}
					logger.Info().Msg("config reloaded")
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	return nil
}
