package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/lifecycle"
)

// Controller is the long-lived handle to one place.
// It owns the latest committed snapshot and the observer registry of the place,
// and serializes every commit against it: commits are admitted one at a time in
// submission order, and the notifications of a commit are delivered before the
// next commit's write begins.
type Controller struct {
	key      string
	store    Store
	notifier *Notifier
	current  atomic.Pointer[Snapshot]
	lock     *ticketLock

	logger      *slog.Logger
	metrics     MetricsRecorder
	eventBuffer int

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	pending  atomic.Int64
	streams  []*stream
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the logger used for commit and delivery diagnostics.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the recorder for commit and notification measurements.
func WithMetrics(m MetricsRecorder) ControllerOption {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithEventBuffer sets the buffer size of channels returned by Watch.
// Zero means default (100).
func WithEventBuffer(size int) ControllerOption {
	return func(c *Controller) {
		if size > 0 {
			c.eventBuffer = size
		}
	}
}

// NewController creates a controller for the place stored under key.
// The cached snapshot starts empty; call Load to prime it from the store.
func NewController(store Store, key string, opts ...ControllerOption) *Controller {
	c := &Controller{
		key:         key,
		store:       store,
		lock:        newTicketLock(),
		logger:      discardLogger(),
		metrics:     nopMetrics{},
		eventBuffer: 100,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.notifier = NewNotifier(c.logger, c.metrics)
	c.current.Store(&Snapshot{Key: key})
	return c
}

// Key returns the key of the managed place.
func (c *Controller) Key() string {
	return c.key
}

// CurrentSnapshot returns the latest committed snapshot. It never returns staged
// values, and a read racing a commit sees either the old or the new snapshot.
func (c *Controller) CurrentSnapshot() Snapshot {
	return *c.current.Load()
}

// Attach registers an observer of the place.
func (c *Controller) Attach(o Observer) *Subscription {
	return c.notifier.Attach(o)
}

// Detach removes an observer registration.
func (c *Controller) Detach(sub *Subscription) {
	c.notifier.Detach(sub)
}

// Load primes the cached snapshot from the store. A missing place is not an error.
func (c *Controller) Load(ctx context.Context) error {
	c.lock.lock()
	defer c.lock.release()

	snap, err := c.store.Read(ctx, c.key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", c.key, err)
	}
	c.current.Store(&snap)
	return nil
}

// EnsureCreated loads the place and, if it does not exist, creates it in a
// synchronous transaction seeded by seed.
func (c *Controller) EnsureCreated(ctx context.Context, seed func(d *Draft)) (Snapshot, error) {
	if err := c.Load(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap := c.CurrentSnapshot(); snap.Exists() {
		return snap, nil
	}

	tx, err := c.BeginSynchronous(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	draft, err := tx.Create()
	if err != nil {
		return Snapshot{}, err
	}
	if seed != nil {
		seed(draft)
	}
	return tx.Commit(ctx)
}

// Begin opens a transaction with the given scheduling mode.
// ctx bounds the lifetime of asynchronous transactions and is ignored for
// cancellation by detached ones; its values are kept in every mode.
func (c *Controller) Begin(ctx context.Context, mode Mode) (*Transaction, error) {
	if c.isClosed() {
		return nil, ErrControllerClosed
	}
	s, err := strategyFor(mode)
	if err != nil {
		return nil, err
	}
	return newTransaction(c, ctx, s), nil
}

// BeginSynchronous opens a transaction committed with Commit.
func (c *Controller) BeginSynchronous(ctx context.Context) (*Transaction, error) {
	return c.Begin(ctx, ModeSynchronous)
}

// BeginAsynchronous opens a transaction committed with CommitAsync and bound to ctx.
func (c *Controller) BeginAsynchronous(ctx context.Context) (*Transaction, error) {
	return c.Begin(ctx, ModeAsynchronous)
}

// BeginDetached opens a transaction committed with CommitAsync that outlives ctx.
func (c *Controller) BeginDetached(ctx context.Context) (*Transaction, error) {
	return c.Begin(ctx, ModeDetached)
}

// Refresh re-reads the store inside the serialization region and, if the stored
// place differs from the cached snapshot (e.g. another process changed it),
// delivers notifications as for a commit. It reports whether anything changed.
func (c *Controller) Refresh(ctx context.Context) (bool, error) {
	c.lock.lock()
	defer c.lock.release()

	previous := c.CurrentSnapshot()
	next, err := c.store.Read(ctx, c.key)
	switch {
	case errors.Is(err, ErrNotFound):
		if !previous.Exists() {
			return false, nil
		}
		next = previous
		next.Deleted = true
		next.CommittedAt = time.Now()
	case err != nil:
		return false, fmt.Errorf("failed to refresh %s: %w", c.key, err)
	case next.Version == previous.Version && next.Place == previous.Place && next.Deleted == previous.Deleted:
		return false, nil
	}

	c.logger.Debug("external change detected", "key", c.key, "version", next.Version)
	c.publish(previous, next)
	return true, nil
}

// Follow refreshes the controller whenever w reports a change of this key.
// It blocks until ctx is done or the event stream ends.
func (c *Controller) Follow(ctx context.Context, w Watchable) error {
	events, err := w.Watch(ctx, c.key)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.key, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Key != c.key {
				continue
			}
			if _, err := c.Refresh(ctx); err != nil {
				c.logger.Warn("refresh failed", "key", c.key, "error", err)
			}
		}
	}
}

// Close stops accepting transactions, waits for submitted asynchronous and
// detached commits to finish, and closes every Watch channel.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := c.streams
	c.streams = nil
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("failed to drain commits of %s: %w", c.key, ctx.Err())
	}

	for _, s := range streams {
		s.stop()
	}
	return err
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// spawn runs a commit job on a tracked background goroutine.
func (c *Controller) spawn(ctx context.Context, job func(ctx context.Context)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	c.inflight.Add(1)
	c.pending.Add(1)
	c.mu.Unlock()

	// The goroutine itself is never cancelled: a taken ticket must always be
	// waited on and released. ctx is only checked at admission.
	lifecycle.Go(context.WithoutCancel(ctx), func(context.Context) error {
		defer c.inflight.Done()
		defer c.pending.Add(-1)
		job(ctx)
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		c.logger.Error("commit worker failed", "key", c.key, "error", err)
	}))
	return nil
}

// abandon consumes a ticket whose job could not be scheduled.
func (c *Controller) abandon(ticket uint64) {
	go func() {
		c.lock.wait(ticket)
		c.lock.release()
	}()
}

// apply is the serialization region: it waits for ticket, writes the staged
// changes through the store and delivers notifications.
func (c *Controller) apply(ctx context.Context, ticket uint64, tx *Transaction) (Snapshot, error) {
	c.lock.wait(ticket)
	defer c.lock.release()

	start := time.Now()
	mode := tx.Mode()
	previous := c.CurrentSnapshot()

	if err := ctx.Err(); err != nil {
		tx.finish(txDiscarded)
		c.metrics.ObserveCommit(mode, OutcomeCancelled, time.Since(start))
		c.logger.Debug("commit cancelled before admission", "key", c.key, "transaction", tx.ID, "mode", mode)
		return previous, fmt.Errorf("commit cancelled: %w", err)
	}

	// Admitted commits run to completion.
	wctx := context.WithoutCancel(ctx)
	draft, deleting, changes := tx.staged()

	var (
		next Snapshot
		err  error
	)
	switch {
	case !changes:
		tx.finish(txCommitted)
		c.metrics.ObserveCommit(mode, OutcomeNoop, time.Since(start))
		return previous, nil
	case deleting:
		next, err = c.store.Delete(wctx, c.key)
	default:
		// The cache may lag the store (never loaded, or written by another
		// controller). Diff against the base the store actually mutated.
		var base *Snapshot
		mutate := draft.mutation()
		next, err = c.store.Write(wctx, c.key, func(current Snapshot) (Place, error) {
			base = &current
			return mutate(current)
		})
		if err == nil && base != nil {
			previous = *base
		}
	}

	if err != nil {
		tx.finish(txDiscarded)
		c.metrics.ObserveCommit(mode, OutcomeFailed, time.Since(start))
		c.logger.Warn("commit failed", "key", c.key, "transaction", tx.ID, "mode", mode, "error", err)
		if errors.Is(err, ErrNotFound) {
			return previous, fmt.Errorf("failed to commit %s: %w", c.key, err)
		}
		if errors.Is(err, ErrStoreWriteFailed) {
			return previous, err
		}
		return previous, fmt.Errorf("%w: %w", ErrStoreWriteFailed, err)
	}

	c.publish(previous, next)
	tx.finish(txCommitted)
	c.metrics.ObserveCommit(mode, OutcomeCommitted, time.Since(start))
	c.logger.Debug("commit applied", "key", c.key, "transaction", tx.ID, "mode", mode, "version", next.Version)
	return next, nil
}

// publish swaps the cached snapshot and notifies observers. Callers hold the
// serialization region.
func (c *Controller) publish(previous, next Snapshot) {
	swap := func() { c.current.Store(&next) }
	if next.Deleted {
		c.notifier.notifyDelete(next, swap)
		return
	}
	c.notifier.notifyCommit(previous, next, swap)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
