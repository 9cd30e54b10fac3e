// Package leaselock implements lease-based distributed locking for scheduled
// work. Multiple instances of the same service agree, through a shared store,
// that only one of them runs a named task at a time. A lock is a key-value
// entry with an expiry: LockAtMostUntil bounds how long a crashed holder can
// block others, LockAtLeastUntil keeps the entry visible after a fast run so
// other instances do not immediately re-execute the task.
//
// Backends live in the subpackages redis, postgres and memory. All of them
// implement LockProvider; callers that just want to wrap a task can use
// LockingTaskExecutor instead of driving the provider directly.
package leaselock
