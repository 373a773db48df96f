package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadSettle = 200 * time.Millisecond

// Watch reloads path whenever it is written or replaced and passes the new
// configuration to fn. Invalid files are logged and skipped. Watch blocks
// until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that rename-over the file are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config watch %s: %w", filepath.Dir(path), err)
	}
	target := filepath.Clean(path)

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) == target && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				settle = time.After(reloadSettle)
			}
		case <-settle:
			settle = nil
			cfg, err := Load(path)
			if err != nil {
				slog.Warn("config: reload failed", "path", path, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", path)
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config: watcher error", "err", err)
		}
	}
}
