// Package watcher calls back when a single file changes or disappears.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Handlers are the callbacks a Watcher invokes. Either may be nil.
type Handlers struct {
	OnChange func() // target written or created
	OnDelete func() // target or its directory removed
}

// Watcher monitors one file. It watches the parent directory, since
// fsnotify cannot watch a file that does not exist yet and editors often
// replace files instead of writing them in place.
type Watcher struct {
	watcher    *fsnotify.Watcher
	ctx        context.Context
	cancel     context.CancelFunc
	handlers   Handlers
	targetPath string
	parentPath string
	debounce   time.Duration
	mu         sync.Mutex
	running    bool
}

// New creates a watcher for targetPath.
func New(targetPath string, handlers Handlers) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	target := filepath.Clean(targetPath)

	return &Watcher{
		targetPath: target,
		parentPath: filepath.Dir(target),
		handlers:   handlers,
		watcher:    fsw,
		ctx:        ctx,
		cancel:     cancel,
		debounce:   100 * time.Millisecond,
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to add initial watch")
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.parentPath); err != nil {
		return err
	}
	return w.watcher.Add(w.parentPath)
}

// watchLoop coalesces bursts of events into one callback per debounce
// window. A delete followed by a create within the window counts as a change.
func (w *Watcher) watchLoop() {
	var (
		timer   *time.Timer
		mu      sync.Mutex
		deleted bool
	)
	schedule := func(del bool) {
		mu.Lock()
		defer mu.Unlock()
		deleted = del
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			mu.Lock()
			del := deleted
			mu.Unlock()
			w.fire(del)
		})
	}

	for {
		select {
		case <-w.ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)

			switch {
			case path == w.parentPath && event.Has(fsnotify.Remove):
				log.Info().Str("path", w.parentPath).Msg("Watched directory deleted")
				schedule(true)
			case path == w.parentPath && event.Has(fsnotify.Create):
				_ = w.addWatch()
			case path != w.targetPath:
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				schedule(true)
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				schedule(false)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) fire(deleted bool) {
	// a replaced file shows up as remove+create; trust the filesystem
	if deleted {
		if _, err := os.Stat(w.targetPath); err == nil {
			deleted = false
		}
	}

	if deleted {
		log.Info().Str("path", w.targetPath).Msg("Watched file deleted")
		if w.handlers.OnDelete != nil {
			w.handlers.OnDelete()
		}
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := w.addWatch(); err != nil {
				log.Debug().Err(err).Str("path", w.parentPath).Msg("Watch not re-established")
			}
		}()
		return
	}

	log.Info().Str("path", w.targetPath).Msg("Watched file changed")
	if w.handlers.OnChange != nil {
		w.handlers.OnChange()
	}
}
