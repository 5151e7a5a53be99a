package campaign

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an update or delete targets an unknown ID.
	ErrNotFound = errors.New("not found")
	// ErrInvalidFormat is returned when a backup payload cannot be restored.
	ErrInvalidFormat = errors.New("invalid backup format")
)

// ValidationError rejects an intent before any state changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// PersistenceError wraps a failed adapter call. The in-memory store keeps its
// previous state whenever one is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func notFound(kind Kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
