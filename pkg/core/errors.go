package core

import "errors"

// Common errors.
var (
	// ErrNotFound is returned when a key has no committed snapshot.
	ErrNotFound = errors.New("place not found")

	// ErrStoreWriteFailed wraps any failure of the underlying store to persist a commit.
	// The transaction is discarded and no notification is delivered.
	ErrStoreWriteFailed = errors.New("store write failed")

	ErrReadOnly          = errors.New("store is in read-only mode")
	ErrTransactionClosed = errors.New("transaction closed")
	ErrModeMismatch      = errors.New("commit call does not match transaction mode")
	ErrControllerClosed  = errors.New("controller closed")
)
