package fs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/placard/pkg/core"
)

type watchWorker struct {
	*worker.BaseWorker
	store     *Store
	pattern   string
	events    chan<- core.Event
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	cancel    context.CancelFunc

	seenMu sync.Mutex
	seen   map[string]bool
}

func newWatchWorker(store *Store, pattern string, events chan<- core.Event) *watchWorker {
	return &watchWorker{
		BaseWorker: worker.NewBaseWorker("fs-watcher"),
		store:      store,
		pattern:    pattern,
		events:     events,
		seen:       make(map[string]bool),
	}
}

func (w *watchWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("watcher already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := w.store.recursiveAdd(watcher); err != nil {
		_ = watcher.Close()
		return err
	}

	if !w.store.config.Gitless {
		_ = watcher.Add(filepath.Join(w.store.Path, ".git"))
	}

	// Baseline for reconciliation; no events for records that already exist.
	if _, err := w.store.Reconcile(ctx, w.pattern, w.seen); err != nil {
		w.logger().Debug("initial reconcile failed", "error", err)
	}

	w.watcher = watcher
	w.debouncer = newDebouncer(50 * time.Millisecond)
	w.store.setWatcherActive(true)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *watchWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}

	return w.BaseWorker.Stop(ctx)
}

func (w *watchWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"pattern":           w.pattern,
		}
	})
}

func (w *watchWorker) logger() *slog.Logger {
	return w.store.config.Logger
}

func (w *watchWorker) reportError(err error) {
	if w.store.config.ErrorHandler != nil {
		w.store.config.ErrorHandler(err)
		return
	}
	w.logger().Error("watcher error", "error", err)
}

// handleGitLockEvent processes .git/index.lock events (git operations pause/resume).
// Returns true if the event was handled.
func (w *watchWorker) handleGitLockEvent(event fsnotify.Event, gitLocked bool) (handled bool, gitLockedNew bool) {
	if filepath.Base(event.Name) != "index.lock" || filepath.Base(filepath.Dir(event.Name)) != ".git" {
		return false, gitLocked
	}

	switch {
	case event.Has(fsnotify.Create):
		w.logger().Debug("git operations detected, pausing watcher")
		return true, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.logger().Debug("git operations finished, reconciling")
		return true, false
	}
	return true, gitLocked
}

// reconcileAfterGitUnlock emits events for changes missed while git held its lock.
func (w *watchWorker) reconcileAfterGitUnlock(ctx context.Context) {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		w.seenMu.Lock()
		events, err := w.store.Reconcile(ctx, w.pattern, w.seen)
		w.seenMu.Unlock()
		if err != nil {
			w.logger().Error("reconcile failed", "error", err)
			return err
		}
		for _, e := range events {
			w.sendEvent(ctx, e)
		}
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		w.reportError(fmt.Errorf("reconcile panic: %w", err))
	}))
}

// processFilesystemEvent handles filtering, mapping and debouncing of filesystem events.
func (w *watchWorker) processFilesystemEvent(ctx context.Context, event fsnotify.Event) bool {
	w.logger().Debug("event received", "name", event.Name, "op", event.Op.String())

	// New directories may hold records too.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.store.shouldIgnoreDir(event.Name) {
				if err := w.watcher.Add(event.Name); err == nil {
					w.logger().Debug("watching new directory", "path", event.Name)
				}
			}
			return false
		}
	}

	if w.store.shouldIgnore(event, w.pattern) {
		return false
	}

	eType := w.store.mapEventType(event)
	if eType == "" {
		return false
	}

	key, err := w.store.resolveKey(event.Name)
	if err != nil {
		w.reportError(fmt.Errorf("failed to resolve key for %s: %w", event.Name, err))
		return false
	}

	w.seenMu.Lock()
	if eType == core.EventDelete {
		delete(w.seen, key)
	} else {
		w.seen[key] = true
	}
	w.seenMu.Unlock()

	w.sendEvent(ctx, core.Event{
		Type:      eType,
		Key:       key,
		Timestamp: time.Now().Unix(),
	})
	return true
}

// sendEvent enqueues an event via the debouncer, protecting against channel closure during shutdown.
func (w *watchWorker) sendEvent(ctx context.Context, event core.Event) {
	w.debouncer.add(event, func(e core.Event) {
		defer func() {
			// The channel may already be closed when the watcher is stopping.
			_ = recover()
		}()
		select {
		case w.events <- e:
		case <-ctx.Done():
		}
	})
}

// run is the main event loop for the watcher worker.
func (w *watchWorker) run(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			panicErr := fmt.Errorf("watcher panic: %v", recovered)

			// Stack traces only when debug logging is enabled.
			if w.logger().Enabled(ctx, slog.LevelDebug) {
				w.logger().Error("watcher panic", "error", panicErr, "stack", string(debug.Stack()))
			} else {
				w.logger().Error("watcher panic", "error", panicErr)
			}
			err = panicErr
		}
	}()
	defer w.store.setWatcherActive(false)
	defer w.watcher.Close()

	err = w.mainEventLoop(ctx)

	// Stop accepting new events and wait for in-flight timers before the
	// events channel can be closed.
	w.debouncer.stopAndWait(5 * time.Second)

	return err
}

func (w *watchWorker) mainEventLoop(ctx context.Context) error {
	gitLocked := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}

			if handled, locked := w.handleGitLockEvent(event, gitLocked); handled {
				if gitLocked && !locked {
					w.reconcileAfterGitUnlock(ctx)
				}
				gitLocked = locked
				continue
			}
			if gitLocked {
				continue
			}

			w.processFilesystemEvent(ctx, event)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.reportError(wErr)
		}
	}
}
