package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type txState int

const (
	txOpen txState = iota
	txCommitting
	txCommitted
	txDiscarded
)

func (s txState) String() string {
	switch s {
	case txOpen:
		return "open"
	case txCommitting:
		return "committing"
	case txCommitted:
		return "committed"
	case txDiscarded:
		return "discarded"
	}
	return "unknown"
}

// Transaction is a single-writer unit of mutation against the place owned by a Controller.
// It holds a private Draft (or a staged deletion) and a scheduling strategy; the three
// modes differ only in where the commit runs and what bounds its lifetime.
//
// A transaction is used once: after Commit, CommitAsync or Discard it is closed.
type Transaction struct {
	ID string

	ctrl     *Controller
	strategy strategy
	ctx      context.Context

	mu       sync.Mutex
	state    txState
	draft    *Draft
	deleting bool
	changes  bool
}

// Mode returns the scheduling mode of the transaction.
func (t *Transaction) Mode() Mode {
	return t.strategy.mode()
}

// State returns the lifecycle state name ("open", "committing", "committed", "discarded").
func (t *Transaction) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.String()
}

// Edit returns a staging copy seeded from the latest committed snapshot.
// It returns ErrNotFound when the place has no backing snapshot; callers may
// fall back to Create. Calling Edit again returns the same draft.
func (t *Transaction) Edit(ctx context.Context) (*Draft, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != txOpen {
		return nil, ErrTransactionClosed
	}
	if t.draft != nil && !t.draft.create {
		return t.draft, nil
	}

	snap := t.ctrl.CurrentSnapshot()
	if !snap.Exists() {
		// The controller may not have been loaded yet; ask the store.
		read, err := t.ctrl.store.Read(ctx, t.ctrl.key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("failed to edit %s: %w", t.ctrl.key, ErrNotFound)
			}
			return nil, fmt.Errorf("failed to read %s: %w", t.ctrl.key, err)
		}
		if !read.Exists() {
			return nil, fmt.Errorf("failed to edit %s: %w", t.ctrl.key, ErrNotFound)
		}
		snap = read
	}

	t.draft = newDraft(snap.Place, false)
	t.deleting = false
	return t.draft, nil
}

// Create returns a fresh staging value for a place that does not exist yet.
// Every field of a created draft is written on commit.
func (t *Transaction) Create() (*Draft, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != txOpen {
		return nil, ErrTransactionClosed
	}
	if t.draft == nil || !t.draft.create {
		t.draft = newDraft(Place{}, true)
	}
	t.deleting = false
	return t.draft, nil
}

// Delete stages the removal of the place. It replaces any staged draft.
func (t *Transaction) Delete() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != txOpen {
		return ErrTransactionClosed
	}
	t.draft = nil
	t.deleting = true
	return nil
}

// Discard abandons the transaction. Discarding a transaction whose commit was
// already submitted has no effect: admitted commits always run to completion.
func (t *Transaction) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != txOpen {
		return
	}
	if t.draft != nil {
		t.draft.seal()
	}
	t.draft = nil
	t.deleting = false
	t.state = txDiscarded
}

// Commit writes the staged changes and delivers notifications before returning.
// It is only valid for synchronous transactions.
func (t *Transaction) Commit(ctx context.Context) (Snapshot, error) {
	if t.Mode() != ModeSynchronous {
		return Snapshot{}, fmt.Errorf("%w: %s transaction requires CommitAsync", ErrModeMismatch, t.Mode())
	}
	if t.ctrl.isClosed() {
		t.Discard()
		return t.ctrl.CurrentSnapshot(), ErrControllerClosed
	}
	if err := t.begin(); err != nil {
		return t.ctrl.CurrentSnapshot(), err
	}

	ticket := t.ctrl.lock.take()
	var (
		snap Snapshot
		err  error
	)
	_ = t.strategy.run(t.ctrl, ctx, func(ctx context.Context) {
		snap, err = t.ctrl.apply(ctx, ticket, t)
	})
	return snap, err
}

// CommitAsync submits the staged changes and returns immediately.
// done (optional) is called after the write and all notifications, on a
// background goroutine from which further transactions may be committed.
// It is only valid for asynchronous and detached transactions.
func (t *Transaction) CommitAsync(done func(Snapshot, error)) error {
	if t.Mode() == ModeSynchronous {
		return fmt.Errorf("%w: synchronous transaction requires Commit", ErrModeMismatch)
	}
	if err := t.begin(); err != nil {
		return err
	}

	ticket := t.ctrl.lock.take()
	err := t.strategy.run(t.ctrl, t.ctx, func(ctx context.Context) {
		snap, err := t.ctrl.apply(ctx, ticket, t)
		if done == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				t.ctrl.logger.Error("commit completion panic", "transaction", t.ID, "error", fmt.Errorf("%v", r))
			}
		}()
		done(snap, err)
	})
	if err != nil {
		t.finish(txDiscarded)
		t.ctrl.abandon(ticket)
		return err
	}
	return nil
}

// begin moves the transaction to committing and seals its draft.
func (t *Transaction) begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != txOpen {
		return ErrTransactionClosed
	}
	t.state = txCommitting
	t.changes = t.deleting
	if t.draft != nil {
		t.changes = t.draft.seal()
	}
	return nil
}

func (t *Transaction) finish(s txState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// staged returns what the commit has to write.
func (t *Transaction) staged() (draft *Draft, deleting, changes bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draft, t.deleting, t.changes
}

func newTransaction(c *Controller, ctx context.Context, s strategy) *Transaction {
	return &Transaction{
		ID:       uuid.NewString(),
		ctrl:     c,
		strategy: s,
		ctx:      s.bind(ctx),
	}
}
