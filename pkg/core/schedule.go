package core

import (
	"context"
	"fmt"
)

// Mode selects how a transaction's commit is scheduled.
// All modes share the same staging and write logic.
type Mode int

const (
	// ModeSynchronous commits in the caller's goroutine and blocks until the write
	// and every notification have completed.
	ModeSynchronous Mode = iota
	// ModeAsynchronous queues the commit to a background goroutine. It is bound to
	// the context the transaction was opened with: if that context ends before the
	// commit is admitted, the commit is dropped.
	ModeAsynchronous
	// ModeDetached queues the commit like ModeAsynchronous but is not bound to the
	// creator's lifetime. It always completes, and Controller.Close waits for it.
	ModeDetached
)

func (m Mode) String() string {
	switch m {
	case ModeSynchronous:
		return "synchronous"
	case ModeAsynchronous:
		return "asynchronous"
	case ModeDetached:
		return "detached"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a mode name ("sync", "async", "detached" or the full names) to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "sync", "synchronous":
		return ModeSynchronous, nil
	case "async", "asynchronous":
		return ModeAsynchronous, nil
	case "detached":
		return ModeDetached, nil
	}
	return 0, fmt.Errorf("unknown transaction mode %q", s)
}

// strategy is the scheduling half of a transaction.
type strategy interface {
	mode() Mode
	// bind derives the context a transaction carries from its creator's context.
	bind(parent context.Context) context.Context
	// run executes a commit job exactly once. ctx is the context the commit is
	// admitted under; the job checks it before entering the serialization region.
	run(c *Controller, ctx context.Context, job func(ctx context.Context)) error
}

func strategyFor(m Mode) (strategy, error) {
	switch m {
	case ModeSynchronous:
		return inlineStrategy{}, nil
	case ModeAsynchronous:
		return boundedStrategy{}, nil
	case ModeDetached:
		return detachedStrategy{}, nil
	}
	return nil, fmt.Errorf("unknown transaction mode %d", int(m))
}

// inlineStrategy runs the commit in the calling goroutine.
type inlineStrategy struct{}

func (inlineStrategy) mode() Mode { return ModeSynchronous }

func (inlineStrategy) bind(parent context.Context) context.Context { return parent }

func (inlineStrategy) run(_ *Controller, ctx context.Context, job func(ctx context.Context)) error {
	job(ctx)
	return nil
}

// boundedStrategy enqueues the commit, keeping the creator's cancellation.
type boundedStrategy struct{}

func (boundedStrategy) mode() Mode { return ModeAsynchronous }

func (boundedStrategy) bind(parent context.Context) context.Context { return parent }

func (boundedStrategy) run(c *Controller, ctx context.Context, job func(ctx context.Context)) error {
	return c.spawn(ctx, job)
}

// detachedStrategy enqueues the commit and drops the creator's cancellation.
type detachedStrategy struct{}

func (detachedStrategy) mode() Mode { return ModeDetached }

func (detachedStrategy) bind(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

func (detachedStrategy) run(c *Controller, ctx context.Context, job func(ctx context.Context)) error {
	return c.spawn(ctx, job)
}
