// Package memory provides a process-local implementation of core.Store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/placard/pkg/core"
)

// Store keeps snapshots in a map guarded by a mutex.
// Versions grow monotonically per key and survive deletion, so a re-created
// place never reuses an old version number.
type Store struct {
	mu       sync.Mutex
	records  map[string]core.Snapshot
	versions map[string]uint64
	readOnly bool
	failWith error
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithReadOnly rejects every write and delete with core.ErrReadOnly.
func WithReadOnly(readOnly bool) Option {
	return func(s *Store) {
		s.readOnly = readOnly
	}
}

// WithClock overrides the time source used for CommittedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		records:  make(map[string]core.Snapshot),
		versions: make(map[string]uint64),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailWrites makes every subsequent write and delete fail with err until it is
// called again with nil.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Initialize implements core.Store.
func (s *Store) Initialize(ctx context.Context) error {
	return nil
}

// Read implements core.Store.
func (s *Store) Read(ctx context.Context, key string) (core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.records[key]
	if !ok {
		return core.Snapshot{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	return snap, nil
}

// Write implements core.Store.
func (s *Store) Write(ctx context.Context, key string, fn core.MutationFunc) (core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return core.Snapshot{}, err
	}

	current, ok := s.records[key]
	if !ok {
		current = core.Snapshot{Key: key}
	}
	place, err := fn(current)
	if err != nil {
		return core.Snapshot{}, err
	}

	s.versions[key]++
	next := core.Snapshot{
		Key:         key,
		Place:       place,
		Version:     s.versions[key],
		CommittedAt: s.now(),
	}
	s.records[key] = next
	return next, nil
}

// Delete implements core.Store.
func (s *Store) Delete(ctx context.Context, key string) (core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(); err != nil {
		return core.Snapshot{}, err
	}

	current, ok := s.records[key]
	if !ok {
		return core.Snapshot{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	delete(s.records, key)

	s.versions[key]++
	current.Version = s.versions[key]
	current.Deleted = true
	current.CommittedAt = s.now()
	return current, nil
}

// Keys returns the keys of all live records.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	return keys
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "memory-store"
}

func (s *Store) writable() error {
	if s.readOnly {
		return core.ErrReadOnly
	}
	if s.failWith != nil {
		return fmt.Errorf("%w: %w", core.ErrStoreWriteFailed, s.failWith)
	}
	return nil
}
