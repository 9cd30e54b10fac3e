package leaselock

import (
	"context"
	"time"
)

// Clock is the single time source used for all lease math. Production code
// uses SystemClock; tests inject a fixed or stepping implementation.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// LockConfiguration describes one acquisition attempt. It is immutable once
// handed to a provider.
type LockConfiguration struct {
	// Name identifies the lock. Two processes using the same name (and the
	// same provider environment) compete for the same lease entry.
	Name string
	// LockAtMostUntil is the instant past which the lease must no longer be
	// honored, even if the holder crashed without unlocking.
	LockAtMostUntil time.Time
	// LockAtLeastUntil is the instant before which the lease entry must stay
	// visible, even if the holder unlocks early. Zero means the lock may be
	// released immediately.
	LockAtLeastUntil time.Time
}

// NewLockConfiguration builds a configuration from durations relative to now.
// lockAtLeastFor may be zero.
func NewLockConfiguration(now time.Time, name string, lockAtMostFor, lockAtLeastFor time.Duration) LockConfiguration {
	return LockConfiguration{
		Name:             name,
		LockAtMostUntil:  now.Add(lockAtMostFor),
		LockAtLeastUntil: now.Add(lockAtLeastFor),
	}
}

// Validate reports whether the configuration is usable. It does not check
// that LockAtMostUntil is in the future; an already-expired window is a
// normal non-acquisition, not a configuration error.
func (c LockConfiguration) Validate() error {
	if c.Name == "" {
		return ErrNameRequired
	}
	if c.LockAtLeastUntil.After(c.LockAtMostUntil) {
		return ErrInvalidWindow
	}
	return nil
}

// SimpleLock is a held lease. Exactly one Unlock is expected per lock; the
// handle is inert afterwards.
type SimpleLock interface {
	// Unlock releases the lease. If LockAtLeastUntil has not passed yet the
	// entry is kept alive until that instant instead of being deleted, so
	// other instances cannot re-acquire during the minimum hold window.
	// Both paths are ownership-guarded: a lease that expired and was
	// re-acquired by someone else is left untouched.
	Unlock(ctx context.Context) error
	// Extend replaces the lease window with a new one measured from now and
	// returns a fresh handle. It returns (nil, nil) when the lease is no
	// longer owned by this handle. The receiving handle is terminal after
	// the call either way.
	Extend(ctx context.Context, lockAtMostFor, lockAtLeastFor time.Duration) (SimpleLock, error)
}

// LockProvider creates leases. Lock issues a single atomic create-if-absent
// store operation and never retries or blocks on contention.
//
// The three outcomes are kept distinct: (lock, nil) on acquisition,
// (nil, nil) when the lock is held elsewhere or the window already expired,
// and (nil, err) on validation or store failure. "Someone else holds it" is
// never reported as an error.
type LockProvider interface {
	Lock(ctx context.Context, cfg LockConfiguration) (SimpleLock, error)
}
