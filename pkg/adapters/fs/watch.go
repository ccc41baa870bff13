package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/supervisor"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/placard/pkg/core"
)

// Watch implements core.Watchable. It reports changes to records whose key
// matches pattern (doublestar syntax, e.g. "**/*" or "places/*").
// The watcher runs under a supervisor that restarts it after failures; the
// returned channel is closed when ctx is done.
func (s *Store) Watch(ctx context.Context, pattern string) (<-chan core.Event, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid watch pattern %q", pattern)
	}
	if _, err := os.Stat(s.Path); err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", s.Path, err)
	}

	events := make(chan core.Event, 100)
	spec := supervisor.Spec{
		Name: "fs-watcher",
		Type: string(worker.TypeGoroutine),
		Factory: func() (worker.Worker, error) {
			return newWatchWorker(s, pattern, events), nil
		},
		Backoff: supervisor.Backoff{
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2,
			ResetDuration:   time.Minute,
			MaxRestarts:     10,
			MaxDuration:     5 * time.Minute,
		},
		RestartPolicy: supervisor.RestartOnFailure,
	}

	sup := supervisor.New("fs-watch-"+pattern, supervisor.StrategyOneForOne, spec)
	if err := sup.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sup.Stop(stopCtx); err != nil {
			s.config.Logger.Warn("failed to stop watcher", "error", err)
		}
		close(events)
	}()

	return events, nil
}

// recursiveAdd registers every visible directory of the store with the watcher.
func (s *Store) recursiveAdd(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(s.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.Path && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// shouldIgnoreDir reports whether a directory is hidden (e.g. .git or the system dir).
func (s *Store) shouldIgnoreDir(path string) bool {
	rel, err := filepath.Rel(s.Path, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

// shouldIgnore filters out temp files, hidden directories, unsupported
// formats and keys outside pattern.
func (s *Store) shouldIgnore(event fsnotify.Event, pattern string) bool {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, TempFilePrefix) || strings.HasPrefix(name, ".") {
		return true
	}

	if s.shouldIgnoreDir(filepath.Dir(event.Name)) {
		return true
	}
	if !s.supported(event.Name) {
		return true
	}

	key, err := s.resolveKey(event.Name)
	if err != nil {
		return true
	}
	match, err := doublestar.Match(pattern, key)
	return err != nil || !match
}

func (s *Store) mapEventType(event fsnotify.Event) core.EventType {
	switch {
	case event.Has(fsnotify.Create):
		return core.EventCreate
	case event.Has(fsnotify.Write):
		return core.EventModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return core.EventDelete
	}
	return ""
}

// Reconcile compares the records on disk with the keys seen at the previous
// call and returns events for everything that may have changed in between.
// It is used after git operations, during which filesystem events are paused.
func (s *Store) Reconcile(ctx context.Context, pattern string, seen map[string]bool) ([]core.Event, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	current := make(map[string]bool, len(keys))
	var events []core.Event
	for _, key := range keys {
		if match, _ := doublestar.Match(pattern, key); !match {
			continue
		}
		current[key] = true
		typ := core.EventModify
		if !seen[key] {
			typ = core.EventCreate
		}
		events = append(events, core.Event{Type: typ, Key: key, Timestamp: now})
	}
	for key := range seen {
		if !current[key] {
			events = append(events, core.Event{Type: core.EventDelete, Key: key, Timestamp: now})
		}
	}

	clear(seen)
	for key := range current {
		seen[key] = true
	}
	s.recordReconcile()
	return events, ctx.Err()
}

// debouncer coalesces bursts of events per key (an atomic write produces
// CREATE, WRITE and RENAME in quick succession) into the last one.
type debouncer struct {
	mu       sync.Mutex
	delay    time.Duration
	timers   map[string]*time.Timer
	inflight sync.WaitGroup
	stopped  bool
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:  delay,
		timers: make(map[string]*time.Timer),
	}
}

func (d *debouncer) add(event core.Event, fn func(core.Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if t, ok := d.timers[event.Key]; ok && t.Stop() {
		// The pending call was cancelled before it started.
		d.inflight.Done()
	}

	d.inflight.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(d.delay, func() {
		defer d.inflight.Done()
		d.mu.Lock()
		if d.timers[event.Key] == timer {
			delete(d.timers, event.Key)
		}
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			fn(event)
		}
	})
	d.timers[event.Key] = timer
}

// stopAndWait drops pending events and waits for running callbacks, at most timeout.
func (d *debouncer) stopAndWait(timeout time.Duration) {
	d.mu.Lock()
	d.stopped = true
	for key, t := range d.timers {
		if t.Stop() {
			d.inflight.Done()
		}
		delete(d.timers, key)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
