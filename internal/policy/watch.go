package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the engine whenever a policy file under dir changes.
// Events are debounced so editors that write-then-rename trigger one
// reload. Blocks until ctx is cancelled.
func Watch(ctx context.Context, dir string, engine *Engine) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	var pending *time.Timer
	reload := func() {
		fresh, err := LoadDir(dir)
		if err != nil {
			slog.Warn("policy reload failed, keeping previous rules", "dir", dir, "error", err)
			return
		}
		fresh.mu.RLock()
		policy := fresh.policy
		fresh.mu.RUnlock()
		engine.Replace(policy)
		slog.Info("policy reloaded", "dir", dir, "version", policy.Version, "rules", len(policy.Rules))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(250*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("policy watcher error", "error", err)
		}
	}
}
