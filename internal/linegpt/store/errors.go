package store

import (
	"errors"
	"fmt"
)

// ErrUnsupportedIndex is returned when a query names an index the entity
// type does not have (the fingerprint index exists only for exchanges).
var ErrUnsupportedIndex = errors.New("store: unsupported index")

// ValidationError reports an entity that failed its schema. Nothing is
// written when it is returned.
type ValidationError struct {
	Entity string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("store: invalid %s: %v", e.Entity, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StorageError wraps a database failure. The store never retries; callers
// abort the current event and rely on queue redelivery.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
