package leaselock

import (
	"errors"
	"fmt"
)

var (
	// ErrNameRequired is returned when a configuration has an empty name.
	ErrNameRequired = errors.New("leaselock: lock name must not be empty")
	// ErrInvalidWindow is returned when LockAtLeastUntil exceeds LockAtMostUntil.
	ErrInvalidWindow = errors.New("leaselock: lockAtLeastUntil must not be after lockAtMostUntil")
	// ErrAlreadyUnlocked is returned when a lock handle is used after its
	// terminal operation.
	ErrAlreadyUnlocked = errors.New("leaselock: lock already unlocked")
)

// LockError wraps a store-layer failure so callers can handle one error type
// regardless of backend internals.
type LockError struct {
	Op   string // "acquire", "release" or "extend"
	Name string
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("leaselock: %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }
