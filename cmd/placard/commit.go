package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/placard/internal/platform"
	"github.com/aretw0/placard/pkg/core"
)

var (
	changeReason string
	changeType   string
	changeScope  string
	commitMode   string
)

// addCommitFlags registers the flags shared by every command that commits.
func addCommitFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&changeReason, "message", "m", "", "Change reason (commit message)")
	cmd.Flags().StringVarP(&changeType, "type", "t", "", "Change type (feat, fix, etc)")
	cmd.Flags().StringVarP(&changeScope, "scope", "s", "", "Change scope")
	cmd.Flags().StringVar(&commitMode, "mode", "sync", "Transaction mode (sync, async, detached)")
}

// reasonFor builds the change reason passed to versioned stores.
func reasonFor(subject string) string {
	switch {
	case changeType != "":
		if changeReason != "" {
			subject = changeReason
		}
		return platform.FormatChangeReason(changeType, changeScope, subject, "")
	case changeReason != "":
		return platform.AppendFooter(changeReason)
	default:
		scope := env.Key
		if changeScope != "" {
			scope = changeScope
		}
		return platform.FormatChangeReason(platform.ChangeTypeChore, scope, subject, "")
	}
}

// runTransaction opens a transaction in the requested mode, lets stage fill
// it and commits, waiting for asynchronous completion before returning.
func runTransaction(ctx context.Context, ctrl *core.Controller, subject string, stage func(*core.Transaction) error) (core.Snapshot, error) {
	mode, err := core.ParseMode(commitMode)
	if err != nil {
		return core.Snapshot{}, err
	}

	ctx = context.WithValue(ctx, core.ChangeReasonKey, reasonFor(subject))
	tx, err := ctrl.Begin(ctx, mode)
	if err != nil {
		return core.Snapshot{}, err
	}
	if err := stage(tx); err != nil {
		tx.Discard()
		return core.Snapshot{}, err
	}

	if mode == core.ModeSynchronous {
		return tx.Commit(ctx)
	}

	type result struct {
		snap core.Snapshot
		err  error
	}
	done := make(chan result, 1)
	if err := tx.CommitAsync(func(s core.Snapshot, err error) { done <- result{s, err} }); err != nil {
		return core.Snapshot{}, err
	}
	select {
	case r := <-done:
		return r.snap, r.err
	case <-ctx.Done():
		if mode == core.ModeDetached {
			// The controller finishes detached commits before the store closes.
			return core.Snapshot{}, fmt.Errorf("stopped waiting: %w", ctx.Err())
		}
		return core.Snapshot{}, ctx.Err()
	}
}
