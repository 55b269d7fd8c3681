package tree

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Watcher reports edits to a bookmarks file, coalescing bursts of events.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher watches the directory holding path so atomic renames are seen.
func NewWatcher(path string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("%w: watching %s: %v", ErrWatcherFailed, filepath.Dir(abs), err)
	}

	return &Watcher{path: abs, debounce: debounce, logger: logger, watcher: fw}, nil
}

// Run calls onChange once per quiet period after the file changes. It blocks
// until ctx is done and closes the watcher on return.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context)) error {
	defer w.watcher.Close()

	// nil until a relevant event arrives; re-armed on every further event.
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			fire = time.After(w.debounce)

		case <-fire:
			fire = nil
			w.logger.Debug("bookmarks file changed", zap.String("path", w.path))
			onChange(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("bookmarks watcher error", zap.Error(err))
		}
	}
}
