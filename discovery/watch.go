package discovery

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce is how long Watch waits after the last filesystem event in a
// burst before triggering a rescan — editors commonly emit several events
// (write, chmod, rename-into-place) for a single save.
const debounce = 250 * time.Millisecond

// Watch rescans cfg's directories whenever a file under them changes, and
// invokes onChange with the fresh Result. It blocks until stop is closed.
// Uses the same debounced fsnotify reload pattern as config hot-reload,
// generalized from one config file to the three discovery-layer
// directories.
func Watch(cfg Config, logger *slog.Logger, onChange func(*Result), stop <-chan struct{}) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, dir := range []string{cfg.BuiltinDir, expandHome(cfg.UserDir), cfg.ProjectDir} {
		if dir == "" {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			logger.Warn("discovery: watch add failed", "dir", dir, "error", err)
		}
	}

	var timer *time.Timer
	rescan := func() {
		result, err := Scan(cfg, nil)
		if err != nil {
			logger.Warn("discovery: rescan failed", "error", err)
			return
		}
		onChange(result)
	}

	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, rescan)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("discovery: watcher error", "error", err)
		}
	}
}
