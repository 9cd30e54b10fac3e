// Package metrics exposes Prometheus counters for lock activity.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Acquired tracks successful lock acquisitions.
	Acquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leaselock_acquired_total",
		Help: "Total number of successful lock acquisitions",
	})
	// Contended tracks acquisition attempts that found the lock held.
	Contended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leaselock_contended_total",
		Help: "Total number of acquisition attempts rejected because the lock was held",
	})
	// Released tracks locks removed or shortened by Unlock.
	Released = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leaselock_released_total",
		Help: "Total number of lock releases",
	})
	// ReleaseFailures tracks store failures during the delete branch of Unlock.
	ReleaseFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leaselock_release_failures_total",
		Help: "Total number of failed lock releases",
	})
	// ExtendFailures tracks store failures while shortening or extending a
	// lease. These are not escalated to callers; the lease simply expires at
	// its original horizon.
	ExtendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leaselock_extend_failures_total",
		Help: "Total number of failed lease expiry updates",
	})
	// TasksSkipped tracks executor runs skipped because the lock was held.
	TasksSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leaselock_tasks_skipped_total",
		Help: "Total number of tasks skipped due to lock contention",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics registers lock metrics on the provided registry.
func RegisterLockMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Acquired, Contended, Released, ReleaseFailures, ExtendFailures, TasksSkipped)
}
