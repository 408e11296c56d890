package cache

import (
	"errors"
	"fmt"
)

// Error taxonomy of the local cache. All of them are advisory: callers log and fall back to remote.
var (
	// ErrStorageUnavailable is returned when the storage facility could not be opened.
	// It is permanent for the lifetime of a Handle.
	ErrStorageUnavailable = errors.New("cache storage unavailable")
	// ErrRead wraps transient read faults.
	ErrRead = errors.New("cache read failed")
	// ErrWrite wraps transient write faults.
	ErrWrite = errors.New("cache write failed")
)

// Unavailable marks err as a storage-unavailable failure.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// ReadError wraps a read fault for op.
func ReadError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRead, op, err)
}

// WriteError wraps a write fault for op.
func WriteError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrWrite, op, err)
}
