package leaselock

import (
	"context"

	"github.com/mirkobrombin/go-leaselock/v1/metrics"
)

// Task is a unit of work executed while a lock is held.
type Task func(ctx context.Context) error

// TaskResult reports what happened during ExecuteWithLock.
type TaskResult struct {
	// LockAcquired is false when another instance held the lock.
	LockAcquired bool
	// Executed is true when the task ran, regardless of its outcome.
	Executed bool
	// TaskErr is the error returned by the task itself.
	TaskErr error
}

// LockingTaskExecutor runs tasks under a distributed lock. A task that cannot
// acquire its lock is skipped, not queued.
type LockingTaskExecutor struct {
	provider LockProvider
}

// NewLockingTaskExecutor returns an executor backed by the given provider.
func NewLockingTaskExecutor(provider LockProvider) *LockingTaskExecutor {
	return &LockingTaskExecutor{provider: provider}
}

// ExecuteWithLock acquires the configured lock, runs task while holding it
// and unlocks afterwards. The unlock happens even when the task fails or
// panics. A non-nil error means acquisition or release failed; the task's own
// error is reported through TaskResult.TaskErr.
func (e *LockingTaskExecutor) ExecuteWithLock(ctx context.Context, cfg LockConfiguration, task Task) (TaskResult, error) {
	lock, err := e.provider.Lock(ctx, cfg)
	if err != nil {
		return TaskResult{}, err
	}
	if lock == nil {
		metrics.TasksSkipped.Inc()
		return TaskResult{}, nil
	}

	res := TaskResult{LockAcquired: true}
	func() {
		defer func() {
			if r := recover(); r != nil {
				_ = lock.Unlock(ctx)
				panic(r)
			}
		}()
		res.Executed = true
		res.TaskErr = task(ctx)
	}()

	if err := lock.Unlock(ctx); err != nil {
		return res, err
	}
	return res, nil
}
