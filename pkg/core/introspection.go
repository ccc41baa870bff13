package core

import (
	"github.com/aretw0/introspection"
)

// ControllerState exposes internal state for observability.
type ControllerState struct {
	Key             string `json:"key"`
	Version         uint64 `json:"version"`
	Exists          bool   `json:"exists"`
	Observers       int    `json:"observers"`
	QueuedCommits   uint64 `json:"queued_commits"`
	PendingAsync    int64  `json:"pending_async"`
	EventBufferSize int    `json:"event_buffer_size"`
	StoreType       string `json:"store_type"`
	Closed          bool   `json:"closed"`
}

// State implements introspection.Introspectable.
func (c *Controller) State() any {
	snap := c.CurrentSnapshot()

	storeType := "store"
	// Try to get component type if the store implements introspection.Component
	if comp, ok := c.store.(introspection.Component); ok {
		storeType = comp.ComponentType()
	}

	return ControllerState{
		Key:             c.key,
		Version:         snap.Version,
		Exists:          snap.Exists(),
		Observers:       c.notifier.Len(),
		QueuedCommits:   c.lock.queued(),
		PendingAsync:    c.pending.Load(),
		EventBufferSize: c.eventBuffer,
		StoreType:       storeType,
		Closed:          c.isClosed(),
	}
}

// ComponentType implements introspection.Component.
func (c *Controller) ComponentType() string {
	return "controller"
}

var _ introspection.Introspectable = (*Controller)(nil)
var _ introspection.Component = (*Controller)(nil)
