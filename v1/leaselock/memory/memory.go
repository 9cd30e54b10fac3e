// Package memory implements leaselock.LockProvider using local process
// memory. It coordinates nothing across nodes and exists for tests and
// single-instance deployments where the locking discipline should stay the
// same as in production.
package memory

import (
	"context"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/mirkobrombin/go-leaselock/v1/leaselock"
	"github.com/mirkobrombin/go-leaselock/v1/lockbus"
	"github.com/mirkobrombin/go-leaselock/v1/metrics"
)

type entry struct {
	token     string
	lockUntil time.Time
}

// Provider implements leaselock.LockProvider in memory.
type Provider struct {
	clock leaselock.Clock
	bus   lockbus.Bus

	mu    sync.Mutex
	locks map[string]entry
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock sets the time source used for lease math.
func WithClock(clock leaselock.Clock) Option {
	return func(p *Provider) { p.clock = clock }
}

// WithBus makes the provider publish acquire/release events on bus. Delivery
// is fire and forget; bus failures never affect lock outcomes.
func WithBus(bus lockbus.Bus) Option {
	return func(p *Provider) { p.bus = bus }
}

// NewProvider returns an empty in-memory provider.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		clock: leaselock.SystemClock{},
		locks: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Lock implements leaselock.LockProvider. An expired entry counts as absent,
// mirroring the store-side expiry of the remote backends.
func (p *Provider) Lock(ctx context.Context, cfg leaselock.LockConfiguration) (leaselock.SimpleLock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := p.clock.Now()
	if !cfg.LockAtMostUntil.After(now) {
		return nil, nil
	}
	token, err := uuid.GenerateUUID()
	if err != nil {
		return nil, &leaselock.LockError{Op: "acquire", Name: cfg.Name, Err: err}
	}

	p.mu.Lock()
	if e, ok := p.locks[cfg.Name]; ok && e.lockUntil.After(now) {
		p.mu.Unlock()
		metrics.Contended.Inc()
		return nil, nil
	}
	p.locks[cfg.Name] = entry{token: token, lockUntil: cfg.LockAtMostUntil}
	p.mu.Unlock()

	metrics.Acquired.Inc()
	p.publish(ctx, lockbus.AcquiredSubject(cfg.Name), lockbus.Event{
		Name:   cfg.Name,
		Kind:   lockbus.KindAcquired,
		Holder: token,
		At:     now,
	})
	return &lock{provider: p, token: token, cfg: cfg}, nil
}

func (p *Provider) publish(ctx context.Context, subject string, evt lockbus.Event) {
	if p.bus == nil {
		return
	}
	data, err := evt.Encode()
	if err != nil {
		return
	}
	_ = p.bus.Publish(ctx, subject, data)
}

// compareAndSet updates the entry for name only while it still carries token.
// until zero means delete. Reports whether the guard matched.
func (p *Provider) compareAndSet(name, token string, until time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.locks[name]
	if !ok || e.token != token {
		return false
	}
	if until.IsZero() {
		delete(p.locks, name)
	} else {
		e.lockUntil = until
		p.locks[name] = e
	}
	return true
}

type lock struct {
	provider *Provider
	token    string
	cfg      leaselock.LockConfiguration

	mu       sync.Mutex
	unlocked bool
}

func (l *lock) terminate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unlocked {
		return leaselock.ErrAlreadyUnlocked
	}
	l.unlocked = true
	return nil
}

func (l *lock) Unlock(ctx context.Context) error {
	if err := l.terminate(); err != nil {
		return err
	}
	now := l.provider.clock.Now()
	if l.cfg.LockAtLeastUntil.After(now) {
		l.provider.compareAndSet(l.cfg.Name, l.token, l.cfg.LockAtLeastUntil)
		return nil
	}
	if l.provider.compareAndSet(l.cfg.Name, l.token, time.Time{}) {
		metrics.Released.Inc()
		l.provider.publish(ctx, lockbus.ReleasedSubject(l.cfg.Name), lockbus.Event{
			Name:   l.cfg.Name,
			Kind:   lockbus.KindReleased,
			Holder: l.token,
			At:     now,
		})
	}
	return nil
}

func (l *lock) Extend(ctx context.Context, lockAtMostFor, lockAtLeastFor time.Duration) (leaselock.SimpleLock, error) {
	now := l.provider.clock.Now()
	cfg := leaselock.NewLockConfiguration(now, l.cfg.Name, lockAtMostFor, lockAtLeastFor)
	// A rejected window must leave the handle usable; only a real extension
	// attempt consumes it.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lockAtMostFor <= 0 {
		return nil, nil
	}
	if err := l.terminate(); err != nil {
		return nil, err
	}
	if !l.provider.compareAndSet(cfg.Name, l.token, cfg.LockAtMostUntil) {
		return nil, nil
	}
	return &lock{provider: l.provider, token: l.token, cfg: cfg}, nil
}
