package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"hyperregistry/pkg/logging"
)

// Watch re-loads the configuration whenever config.yaml changes and calls
// onChange with the fresh config. Reload failures keep the previous
// config and are logged. Blocks until ctx is cancelled.
func Watch(ctx context.Context, configPath string, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file, which drops a watch
	// placed on the file itself.
	if err := watcher.Add(configPath); err != nil {
		return err
	}

	target := filepath.Join(configPath, configFileName)
	logging.Info("ConfigWatcher", "Watching %s", target)

	// Editors emit bursts of events per save; the timer coalesces them.
	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != target {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			cfg, err := LoadConfig(configPath)
			if err != nil {
				logging.Error("ConfigWatcher", err, "Reload failed, keeping previous configuration")
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("ConfigWatcher", err, "Watcher error")
		}
	}
}
