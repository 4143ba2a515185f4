package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the event bursts editors produce when saving.
const debounceWindow = 100 * time.Millisecond

// Watcher monitors the configuration file and invokes a callback whenever it
// changes on disk. The snapshot itself stays immutable for the process
// lifetime; watching exists so operators learn a restart is needed. Stop must
// be called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Watch wires fsnotify around the loader's config file. Editors typically
// replace files by rename, so the watch targets the parent directory and
// filters events down to the configured path.
func (l *Loader) Watch(ctx context.Context, onChange func(), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch requires a change callback")
	}
	if l.path == "" {
		return nil, fmt.Errorf("config: no file configured for watching")
	}

	target, err := filepath.Abs(l.path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", l.path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(target), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer fsw.Close()

		var debounce *time.Timer
		var debounceC <-chan time.Time

		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if debounce == nil {
					debounce = time.NewTimer(debounceWindow)
					debounceC = debounce.C
				} else {
					debounce.Reset(debounceWindow)
				}
			case <-debounceC:
				debounceC = nil
				debounce = nil
				onChange()
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch: %w", err))
				}
			}
		}
	}()

	return w, nil
}
