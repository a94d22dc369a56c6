// Package watch reruns the pipeline whenever files under the root change.
package watch

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce absorbs editor save bursts before a rerun.
const DefaultDebounce = 500 * time.Millisecond

// Run watches root recursively and invokes rerun after each debounced
// batch of file events, until ctx is cancelled. rerun executes once up
// front so the first verdict does not wait for a change.
func Run(ctx context.Context, root string, debounce time.Duration, logger *zap.SugaredLogger, rerun func(context.Context)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addRecursive(watcher, root); err != nil {
		return err
	}

	rerun(ctx)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if skipPath(event.Name) {
				continue
			}
			// New directories join the watch set immediately so files
			// created inside them are not missed.
			if event.Op&fsnotify.Create != 0 {
				if err := addRecursive(watcher, event.Name); err != nil {
					logger.Debugf("watch_add path=%s error=%v", event.Name, err)
				}
			}
			logger.Debugf("watch_event path=%s op=%s", event.Name, event.Op)
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			rerun(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("watch_error error=%v", err)

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		}
	}
}

// addRecursive registers path and every directory below it. Non-directory
// paths are ignored.
func addRecursive(watcher *fsnotify.Watcher, path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if skipPath(p) {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
}

func skipPath(path string) bool {
	base := filepath.Base(path)
	if base == ".git" {
		return true
	}
	return strings.Contains(path, string(filepath.Separator)+".git"+string(filepath.Separator))
}
