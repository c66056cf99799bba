// Package errs defines the shared error taxonomy for the embedded stores.
package errs

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotFound is returned when a referenced node, edge, collection or
	// document does not exist and the operation requires it to.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidDimension is returned when an embedding's length does not
	// match the collection's fixed dimension.
	ErrInvalidDimension = errors.New("invalid vector dimension")

	// ErrStorage is returned when the durable record store fails.
	ErrStorage = errors.New("storage failure")

	// ErrConcurrency is returned on lock or wait exhaustion.
	ErrConcurrency = errors.New("concurrency conflict")

	// ErrStoreClosed is returned when trying to use a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// Error wraps errors with operation context.
type Error struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("memstore: %v", e.Err)
	}
	return fmt.Sprintf("memstore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// Wrap wraps an error with operation context. Returns nil for a nil error.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Wrapf wraps a formatted error with operation context.
func Wrapf(op string, sentinel error, format string, args ...any) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)}
}
