package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"weak"

	"github.com/aretw0/lifecycle"
	"golang.org/x/time/rate"

	"github.com/aretw0/placard/pkg/core"
)

// ErrWorkflowClosed is returned by Request after Close.
var ErrWorkflowClosed = errors.New("geocode workflow closed")

// Result describes how one request ended.
type Result struct {
	Coordinate Coordinate
	Placemark  Placemark
	// Snapshot is the committed place when Err is nil.
	Snapshot core.Snapshot
	Err      error
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger sets the workflow logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

// WithRateLimit throttles lookups to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(w *Workflow) {
		w.limiter = rate.NewLimiter(r, burst)
	}
}

// WithOwner registers a callback for the component that requested lookups.
// The workflow keeps only a weak reference to owner: once it is collected,
// results are still committed but notify is no longer called. notify must not
// capture owner itself.
func WithOwner[T any](owner *T, notify func(owner *T, r Result)) Option {
	handle := weak.Make(owner)
	return func(w *Workflow) {
		w.notify = func(r Result) bool {
			o := handle.Value()
			if o == nil {
				return false
			}
			notify(o, r)
			return true
		}
	}
}

// Workflow reverse-geocodes a place whenever its coordinate changes and stores
// the placemark as title and subtitle. A new request cancels the lookup of the
// previous one; a result that reached its commit is never withdrawn.
//
// Workflow implements core.Observer; attach it to the controller it edits.
type Workflow struct {
	ctrl    *core.Controller
	lookup  Lookup
	limiter *rate.Limiter
	logger  *slog.Logger
	notify  func(Result) bool

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64
	closed bool
	wg     sync.WaitGroup
}

// NewWorkflow creates a workflow committing lookups of l into ctrl.
func NewWorkflow(ctrl *core.Controller, l Lookup, opts ...Option) *Workflow {
	w := &Workflow{
		ctrl:    ctrl,
		lookup:  l,
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Attach subscribes the workflow to its controller.
func (w *Workflow) Attach() *core.Subscription {
	return w.ctrl.Attach(w)
}

// Request starts a lookup for the coordinate of snap, cancelling any lookup
// still in flight. The result is committed through a detached transaction, so it
// outlives ctx and the caller.
func (w *Workflow) Request(ctx context.Context, snap core.Snapshot) error {
	if !snap.Exists() {
		return fmt.Errorf("failed to geocode %s: %w", snap.Key, core.ErrNotFound)
	}
	coord := Coordinate{Latitude: snap.Place.Latitude, Longitude: snap.Place.Longitude}

	reason := fmt.Sprintf("chore(%s): name place at %s", w.ctrl.Key(), coord)
	tx, err := w.ctrl.BeginDetached(context.WithValue(ctx, core.ChangeReasonKey, reason))
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		tx.Discard()
		return ErrWorkflowClosed
	}
	if w.cancel != nil {
		w.cancel()
	}
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.seq++
	seq := w.seq
	w.wg.Add(1)
	w.mu.Unlock()

	w.logger.Debug("geocode requested", "key", w.ctrl.Key(), "request", seq, "coordinate", coord.String())

	// The worker always runs so the wait group and the transaction are settled;
	// supersession is observed through lctx.
	lifecycle.Go(context.WithoutCancel(ctx), func(context.Context) error {
		defer w.wg.Done()
		defer w.done(seq, cancel)
		w.run(lctx, seq, tx, coord)
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		w.logger.Error("geocode worker failed", "key", w.ctrl.Key(), "request", seq, "error", err)
	}))
	return nil
}

func (w *Workflow) run(ctx context.Context, seq uint64, tx *core.Transaction, coord Coordinate) {
	if err := w.limiter.Wait(ctx); err != nil {
		tx.Discard()
		w.logger.Debug("geocode dropped while throttled", "request", seq, "error", err)
		return
	}

	pm, err := w.lookup.ReverseGeocode(ctx, coord)
	if ctx.Err() != nil {
		// Superseded or closed: the newer request owns the result.
		tx.Discard()
		w.logger.Debug("geocode superseded", "request", seq)
		return
	}
	if err != nil {
		tx.Discard()
		if !errors.Is(err, ErrLookupFailed) {
			err = fmt.Errorf("%w: %w", ErrLookupFailed, err)
		}
		w.logger.Warn("geocode failed", "key", w.ctrl.Key(), "request", seq, "error", err)
		w.report(Result{Coordinate: coord, Err: err})
		return
	}

	draft, err := tx.Edit(context.WithoutCancel(ctx))
	if err != nil {
		tx.Discard()
		w.report(Result{Coordinate: coord, Placemark: pm, Err: err})
		return
	}
	draft.SetTitle(pm.Name)
	draft.SetSubtitle(pm.Address())

	err = tx.CommitAsync(func(snap core.Snapshot, err error) {
		if err != nil {
			w.logger.Warn("geocode commit failed", "key", w.ctrl.Key(), "request", seq, "error", err)
		}
		w.report(Result{Coordinate: coord, Placemark: pm, Snapshot: snap, Err: err})
	})
	if err != nil {
		w.report(Result{Coordinate: coord, Placemark: pm, Err: err})
	}
}

func (w *Workflow) done(seq uint64, cancel context.CancelFunc) {
	cancel()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seq == seq {
		w.cancel = nil
	}
}

func (w *Workflow) report(r Result) {
	if w.notify == nil {
		return
	}
	if !w.notify(r) {
		w.logger.Debug("geocode owner gone", "key", w.ctrl.Key())
	}
}

// Cancel stops the lookup in flight, if any. Commits already submitted finish.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

// Close cancels the lookup in flight and waits for lookup goroutines to return.
// Submitted commits are tracked by the controller, see core.Controller.Close.
func (w *Workflow) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.Cancel()
	w.wg.Wait()
}

// WillUpdate implements core.Observer.
func (w *Workflow) WillUpdate(core.Snapshot) {}

// WasUpdated implements core.Observer. Coordinate changes trigger a lookup.
func (w *Workflow) WasUpdated(current core.Snapshot, changed core.FieldSet) {
	if !changed.ContainsAny(core.FieldLatitude, core.FieldLongitude) {
		return
	}
	if err := w.Request(context.Background(), current); err != nil && !errors.Is(err, ErrWorkflowClosed) {
		w.logger.Warn("geocode request failed", "key", current.Key, "error", err)
	}
}

// WasDeleted implements core.Observer.
func (w *Workflow) WasDeleted(core.Snapshot) {
	w.Cancel()
}

var _ core.Observer = (*Workflow)(nil)
