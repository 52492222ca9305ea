// Package errs defines the sentinel error kinds shared across the
// reconciliation engine, per the propagation policy in the design's error
// handling table.
package errs

import "errors"

var (
	// ErrNotFound is returned by the Store when a lookup misses. The
	// Fetcher reports a terminal 404 as fetcher.ErrPageNotFound instead.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned by the Store when an insert collides with
	// the unique index on source_url. Expected on resumed crawls.
	ErrDuplicate = errors.New("duplicate")

	// ErrConnectionLost signals a Store-level connectivity failure. The
	// caller (Reconciler) treats this as run-fatal, not book-fatal.
	ErrConnectionLost = errors.New("connection lost")

	// ErrInvariant is returned when a write would violate a Book
	// invariant (non-positive price, negative review count, ...).
	ErrInvariant = errors.New("invariant violation")

	// ErrCancelled names a context cancellation observed mid-reconciliation.
	// No package returns it; cancelled work surfaces the context's own error.
	ErrCancelled = errors.New("cancelled")
)
