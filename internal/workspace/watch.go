package workspace

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/runebook/internal/checksum"
)

const watchDebounce = 100 * time.Millisecond

// Watch listens for writes to the cache entries under dir made by other
// processes and applies them to store until ctx is cancelled. Bursts of
// events are debounced; a reload that matches the in-memory state is ignored.
func Watch(ctx context.Context, dir string, cache *Cache, store *Store, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("dir", dir))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(watchDebounce)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(watchDebounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			reload(cache, store, logger)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			switch filepath.Base(ev.Name) {
			case FilesKey, ActiveKey:
			default:
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func reload(cache *Cache, store *Store, logger *slog.Logger) {
	snap, ok, err := cache.Load()
	if err != nil {
		logger.Warn("watcher: reload failed", slog.String("error", err.Error()))
		return
	}
	if !ok || checksum.Snapshot(snap) == checksum.Snapshot(store.Snapshot()) {
		return
	}
	logger.Debug("watcher: applying external change", slog.Int("documents", len(snap.Documents)))
	store.ReplaceAll(snap)
}
