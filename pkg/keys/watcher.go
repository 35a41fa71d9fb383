package keys

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/colony/pkg/config"
)

// keysFile is the on-disk shape of the reloadable keys file: a list of
// provider entries, same schema as the providers section of the config.
type keysFile struct {
	Providers []config.ProviderConfig `yaml:"providers"`
}

// LoadKeysFile applies the keys file to the manager. ${VAR} references are
// expanded before parsing.
func (m *Manager) LoadKeysFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read keys file: %w", err)
	}

	var kf keysFile
	if err := yaml.Unmarshal([]byte(config.ExpandEnv(string(data))), &kf); err != nil {
		return fmt.Errorf("failed to parse keys file: %w", err)
	}

	for _, pc := range kf.Providers {
		m.Reload(pc)
	}
	return nil
}

// Watch reloads the keys file whenever it changes, until the context is
// canceled. Editors that replace the file are handled by re-adding the
// watch on Remove/Rename.
func (m *Manager) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create keys watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch keys file: %w", err)
	}

	go func() {
		defer watcher.Close()

		// Coalesce bursts of write events.
		var pending <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					pending = time.After(250 * time.Millisecond)
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					time.Sleep(100 * time.Millisecond)
					if err := watcher.Add(path); err == nil {
						pending = time.After(250 * time.Millisecond)
					}
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Keys watcher error", "error", err)

			case <-pending:
				pending = nil
				if err := m.LoadKeysFile(path); err != nil {
					slog.Warn("Keys file reload failed", "path", path, "error", err)
				}
			}
		}
	}()

	slog.Info("Watching keys file", "path", path)
	return nil
}
