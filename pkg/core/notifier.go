package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Callback names reported to MetricsRecorder.ObserveNotification.
const (
	CallbackWillUpdate = "will_update"
	CallbackWasUpdated = "was_updated"
	CallbackWasDeleted = "was_deleted"
)

// Observer receives change notifications for one place.
//
// Callbacks for one place never interleave: WillUpdate and WasUpdated of a commit
// are delivered before the next commit is written. Callbacks run inside the
// controller's serialization region, so an observer must not call the blocking
// Transaction.Commit of the same controller; CommitAsync is fine.
type Observer interface {
	// WillUpdate is called with the previous snapshot before the controller
	// publishes a committed update.
	WillUpdate(previous Snapshot)
	// WasUpdated is called with the new snapshot and the fields that changed.
	WasUpdated(current Snapshot, changed FieldSet)
	// WasDeleted is called once the place has been deleted.
	WasDeleted(last Snapshot)
}

// ObserverFuncs adapts plain functions to Observer. Nil functions are no-ops.
type ObserverFuncs struct {
	OnWillUpdate func(previous Snapshot)
	OnWasUpdated func(current Snapshot, changed FieldSet)
	OnWasDeleted func(last Snapshot)
}

func (f ObserverFuncs) WillUpdate(previous Snapshot) {
	if f.OnWillUpdate != nil {
		f.OnWillUpdate(previous)
	}
}

func (f ObserverFuncs) WasUpdated(current Snapshot, changed FieldSet) {
	if f.OnWasUpdated != nil {
		f.OnWasUpdated(current, changed)
	}
}

func (f ObserverFuncs) WasDeleted(last Snapshot) {
	if f.OnWasDeleted != nil {
		f.OnWasDeleted(last)
	}
}

// Subscription is the registration handle returned by Attach.
type Subscription struct {
	ID       string
	observer Observer
	active   atomic.Bool
	notifier *Notifier
}

// Detach removes the subscription. It is safe to call more than once and from
// inside a callback. Once Detach returns no new callback is started for it.
func (s *Subscription) Detach() {
	if s == nil || s.notifier == nil {
		return
	}
	s.notifier.Detach(s)
}

// Active reports whether the subscription still receives notifications.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

// Notifier is the observer registry of a single place.
// Delivery iterates over a copy of the registrations taken under the lock, so
// attach and detach never mutate a list that is being walked.
type Notifier struct {
	mu      sync.RWMutex
	subs    []*Subscription
	logger  *slog.Logger
	metrics MetricsRecorder
}

// NewNotifier creates an empty registry.
func NewNotifier(logger *slog.Logger, metrics MetricsRecorder) *Notifier {
	if logger == nil {
		logger = discardLogger()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Notifier{logger: logger, metrics: metrics}
}

// Attach registers an observer and returns its subscription.
// Attaching the same observer twice yields two independent subscriptions.
func (n *Notifier) Attach(o Observer) *Subscription {
	sub := &Subscription{
		ID:       uuid.NewString(),
		observer: o,
		notifier: n,
	}
	sub.active.Store(true)

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()
	return sub
}

// Detach removes a subscription.
func (n *Notifier) Detach(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.active.Store(false)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = slices.DeleteFunc(n.subs, func(s *Subscription) bool { return s == sub })
}

// Len returns the number of attached subscriptions.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

func (n *Notifier) subscribers() []*Subscription {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.subs)
}

// notifyCommit delivers an update: WillUpdate to every subscriber, then publish,
// then WasUpdated with the changed fields. It returns the changed-field set.
func (n *Notifier) notifyCommit(previous, current Snapshot, publish func()) FieldSet {
	changed := ChangedFields(previous.Place, current.Place)
	if !previous.Exists() {
		// A place that did not exist had no field values to compare against.
		changed = ChangedFields(Place{}, current.Place)
	}

	subs := n.subscribers()
	for _, sub := range subs {
		n.deliver(sub, CallbackWillUpdate, func(o Observer) { o.WillUpdate(previous) })
	}
	publish()
	for _, sub := range subs {
		n.deliver(sub, CallbackWasUpdated, func(o Observer) { o.WasUpdated(current, changed) })
	}
	return changed
}

// notifyDelete publishes a deletion and delivers WasDeleted.
func (n *Notifier) notifyDelete(last Snapshot, publish func()) {
	subs := n.subscribers()
	publish()
	for _, sub := range subs {
		n.deliver(sub, CallbackWasDeleted, func(o Observer) { o.WasDeleted(last) })
	}
}

// deliver invokes one callback, isolating subscriber panics from the commit.
func (n *Notifier) deliver(sub *Subscription, callback string, fn func(Observer)) {
	if !sub.active.Load() {
		return
	}

	panicked := false
	defer func() {
		n.metrics.ObserveNotification(callback, panicked)
	}()
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		panicked = true
		err := fmt.Errorf("observer panic: %v", recovered)

		// Stack traces are only captured when debug logging is enabled.
		if n.logger.Enabled(context.Background(), slog.LevelDebug) {
			n.logger.Error("observer panic",
				"subscription", sub.ID,
				"callback", callback,
				"error", err,
				"stack", string(debug.Stack()),
			)
			return
		}
		n.logger.Error("observer panic", "subscription", sub.ID, "callback", callback, "error", err)
	}()

	fn(sub.observer)
}
