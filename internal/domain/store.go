package domain

import (
	"context"
	"errors"
	"fmt"
)

// DocumentStore is a versioned, path-addressed JSON document store. Each
// document carries an opaque revision tag used for optimistic concurrency.
type DocumentStore interface {
	// Read returns the raw document at path and its current revision tag.
	// A missing path yields ErrNotFound; callers treat that as an empty
	// initial document, not a failure.
	Read(ctx context.Context, path string) (doc []byte, tag string, err error)

	// Write replaces the whole document at path. An empty expectedTag
	// creates the document; otherwise expectedTag must match the store's
	// current tag or the write fails with ErrConflict and nothing changes.
	Write(ctx context.Context, path string, doc []byte, expectedTag string) (newTag string, err error)
}

var (
	// ErrNotFound is returned by Read for a path that does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned by Write when the expected revision tag is
	// stale. The caller must re-read and retry.
	ErrConflict = errors.New("revision tag conflict")
)

// TransientError wraps a network-level or otherwise retryable transport
// failure on read, write, poll, or dispatch.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
