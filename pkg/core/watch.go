package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// stream is an Observer that converts notifications into Events on a buffered channel.
// Sends never block the commit path: when the buffer is full the event is dropped
// and a warning is logged.
type stream struct {
	mu      sync.Mutex
	ch      chan Event
	done    chan struct{}
	closed  bool
	existed bool
	sub     *Subscription
	logger  *slog.Logger
}

func (s *stream) WillUpdate(Snapshot) {}

func (s *stream) WasUpdated(current Snapshot, changed FieldSet) {
	typ := EventModify
	if !s.existed {
		typ = EventCreate
	}
	s.existed = true
	s.send(Event{
		Type:      typ,
		Key:       current.Key,
		Version:   current.Version,
		Fields:    changed,
		Timestamp: time.Now().Unix(),
	})
}

func (s *stream) WasDeleted(last Snapshot) {
	s.existed = false
	s.send(Event{
		Type:      EventDelete,
		Key:       last.Key,
		Version:   last.Version,
		Timestamp: time.Now().Unix(),
	})
}

func (s *stream) send(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.logger.Warn("event buffer full, dropping event", "key", e.Key, "type", e.Type, "version", e.Version)
	}
}

// stop detaches the stream and closes its channel.
func (s *stream) stop() {
	s.sub.Detach()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
		close(s.done)
	}
}

// Watch returns a channel of Events for every commit of the place until ctx is
// done or the controller is closed; the channel is then closed.
func (c *Controller) Watch(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrControllerClosed
	}

	s := &stream{
		ch:      make(chan Event, c.eventBuffer),
		done:    make(chan struct{}),
		existed: c.CurrentSnapshot().Exists(),
		logger:  c.logger,
	}
	s.sub = c.notifier.Attach(s)
	c.streams = append(c.streams, s)

	go func() {
		select {
		case <-ctx.Done():
			c.removeStream(s)
			s.stop()
		case <-s.done:
		}
	}()

	return s.ch, nil
}

func (c *Controller) removeStream(s *stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.streams {
		if existing == s {
			c.streams = append(c.streams[:i], c.streams[i+1:]...)
			return
		}
	}
}
