package core

import "context"

// MutationFunc computes the next value of a place from the latest committed snapshot.
// Stores call it at write time, while holding their write lock, so a mutation always
// applies on top of the newest state.
type MutationFunc func(current Snapshot) (Place, error)

// Store defines the contract for durable keyed storage of places.
// Adhering to this interface allows the core to be independent of the
// underlying storage mechanism (memory, filesystem, SQL).
type Store interface {
	// Read returns the committed snapshot for key, or ErrNotFound.
	Read(ctx context.Context, key string) (Snapshot, error)

	// Write applies fn to the latest snapshot of key and persists the result atomically.
	// The returned snapshot carries the next version number. When key has no record,
	// fn receives a snapshot whose Exists reports false.
	Write(ctx context.Context, key string, fn MutationFunc) (Snapshot, error)

	// Delete removes the record for key and returns its deletion snapshot, or ErrNotFound.
	Delete(ctx context.Context, key string) (Snapshot, error)

	// Initialize ensures the underlying storage is ready (e.g., create directories, schema).
	Initialize(ctx context.Context) error
}

// Watchable defines an interface for stores that can report changes made outside
// of this process (e.g. another process editing the same file).
type Watchable interface {
	// Watch emits an event for every key matching pattern that changes on the backing storage.
	Watch(ctx context.Context, pattern string) (<-chan Event, error)
}

// Closer is implemented by stores holding resources (file handles, database pools).
type Closer interface {
	Close() error
}
