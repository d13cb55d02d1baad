// Package configwatch reloads the runtime when a watched configuration file changes.
package configwatch

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc is called once per burst of changes.
type ReloadFunc func(ctx context.Context) error

// Watcher watches the directories holding a set of files, since editors and config
// management usually replace a file rather than write it in place.
type Watcher struct {
	files    map[string]bool
	dirs     []string
	debounce time.Duration
	reload   ReloadFunc
	log      *zap.Logger

	reloads atomic.Int64
	errors  atomic.Int64
}

func New(paths []string, debounce time.Duration, reload ReloadFunc, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		files:    map[string]bool{},
		debounce: debounce,
		reload:   reload,
		log:      logger,
	}
	seen := map[string]bool{}
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = filepath.Clean(p)
		}
		w.files[abs] = true
		dir := filepath.Dir(abs)
		if !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	return w
}

// Reloads is the number of reload calls made so far.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	for _, d := range w.dirs {
		if err := fw.Add(d); err != nil {
			return err
		}
		w.log.Info("watching config directory", zap.String("dir", d))
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("config change", zap.String("path", ev.Name), zap.Stringer("op", ev.Op))
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			pending = true

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.errors.Add(1)
			w.log.Warn("config watcher error", zap.Error(err))

		case <-timer.C:
			pending = false
			w.reloads.Add(1)
			if err := w.reload(ctx); err != nil {
				w.log.Error("config reload failed", zap.Error(err))
				continue
			}
			w.log.Info("config reloaded from disk")
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		abs = filepath.Clean(ev.Name)
	}
	return w.files[abs]
}
