package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a Watcher waits for edits to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher calls a function when target documents in a directory
// change.  A burst of events (an editor saving, a checkout) gives a
// single call once things have been quiet for the debounce period.
type Watcher struct {
	sync.Mutex

	Dir      string
	Debounce time.Duration
	Logger   *zap.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	events  int
}

func NewWatcher(dir string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		Dir:      dir,
		Debounce: debounce,
		Logger:   logger,
		watcher:  w,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching.  It doesn't block.  The function is called
// from the Watcher's goroutine, never concurrently with itself.
func (w *Watcher) Start(ctx context.Context, changed func()) error {
	w.Lock()
	defer w.Unlock()
	if w.running {
		return nil
	}
	if err := w.watcher.Add(w.Dir); err != nil {
		return err
	}
	w.running = true
	w.Logger.Info("watching", zap.String("dir", w.Dir))
	go w.run(ctx, changed)
	return nil
}

// Stop stops the Watcher and waits for its goroutine to finish.
func (w *Watcher) Stop() {
	w.Lock()
	running := w.running
	w.running = false
	w.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		w.Logger.Warn("closing watcher", zap.Error(err))
	}
}

// Events returns the number of relevant events seen so far.
func (w *Watcher) Events() int {
	w.Lock()
	defer w.Unlock()
	return w.events
}

func (w *Watcher) run(ctx context.Context, changed func()) {
	defer close(w.doneCh)

	timer := time.NewTimer(w.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			w.Logger.Debug("target document event",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()))
			w.Lock()
			w.events++
			w.Unlock()
			timer.Reset(w.Debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.Logger.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			changed()
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !IsTargetFile(event.Name) {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}
