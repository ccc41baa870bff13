// Package lifecycle exposes controller changes as a lifecycle.Source.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/placard/pkg/core"
)

// Watcher is the part of core.Controller the source needs.
type Watcher interface {
	Watch(ctx context.Context) (<-chan core.Event, error)
}

type placeSource struct {
	watcher Watcher
	fields  core.FieldSet
	out     chan lifecycle.Event
}

// NewSource creates a lifecycle.Source that emits the committed changes of one place.
// When fields are given, modifications that touch none of them are skipped;
// creations and deletions are always emitted.
func NewSource(w Watcher, fields ...core.Field) lifecycle.Source {
	return &placeSource{
		watcher: w,
		fields:  core.NewFieldSet(fields...),
		out:     make(chan lifecycle.Event),
	}
}

func (s *placeSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *placeSource) Start(ctx context.Context) error {
	events, err := s.watcher.Watch(ctx)
	if err != nil {
		return err
	}

	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				if !s.wants(e) {
					continue
				}
				// core.Event satisfies lifecycle.Event through String.
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}

func (s *placeSource) wants(e core.Event) bool {
	if s.fields == 0 || e.Type != core.EventModify {
		return true
	}
	return e.Fields&s.fields != 0
}
