// Package postgres implements leaselock.LockProvider on a single Postgres
// table. Stores without a server-side script facility still offer atomic
// conditional writes through single UPDATE/INSERT statements, so the
// ownership guard becomes a WHERE clause instead of a Lua script.
package postgres

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mirkobrombin/go-leaselock/v1/leaselock"
	"github.com/mirkobrombin/go-leaselock/v1/lockbus"
	"github.com/mirkobrombin/go-leaselock/v1/metrics"
)

// DefaultTable is the lock table name.
const DefaultTable = "job_lock"

// Schema creates the lock table. Callers run it once per database, with the
// table name substituted when WithTable is used.
const Schema = `CREATE TABLE IF NOT EXISTS %s (
	name       text PRIMARY KEY,
	locked_by  text NOT NULL,
	locked_at  timestamptz NOT NULL,
	lock_until timestamptz NOT NULL
)`

// Execer is the slice of pgx needed by the provider. *pgxpool.Pool and
// *pgx.Conn both satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Provider implements leaselock.LockProvider using Postgres.
type Provider struct {
	db    Execer
	table string
	clock leaselock.Clock
	bus   lockbus.Bus
	host  string
}

// Option configures a Provider.
type Option func(*Provider)

// WithTable sets the lock table name.
func WithTable(table string) Option {
	return func(p *Provider) { p.table = table }
}

// WithClock sets the time source used for lease math.
func WithClock(clock leaselock.Clock) Option {
	return func(p *Provider) { p.clock = clock }
}

// WithBus makes the provider publish acquire/release events on bus. Delivery
// is fire and forget; bus failures never affect lock outcomes.
func WithBus(bus lockbus.Bus) Option {
	return func(p *Provider) { p.bus = bus }
}

// NewProvider returns a Provider executing statements through db.
func NewProvider(db Execer, opts ...Option) *Provider {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	p := &Provider{
		db:    db,
		table: DefaultTable,
		clock: leaselock.SystemClock{},
		host:  host,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureSchema creates the lock table if it does not exist.
func (p *Provider) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, fmt.Sprintf(Schema, p.table))
	return err
}

// Lock implements leaselock.LockProvider. One statement covers both the
// fresh-insert and the expired-row takeover case: the conditional update in
// the conflict arm only fires when the existing lease already lapsed, and
// Postgres serializes the two paths on the primary key.
func (p *Provider) Lock(ctx context.Context, cfg leaselock.LockConfiguration) (leaselock.SimpleLock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := p.clock.Now()
	if !cfg.LockAtMostUntil.After(now) {
		return nil, nil
	}
	token := fmt.Sprintf("%s:%s", p.host, uuid.NewString())

	sql := fmt.Sprintf(`INSERT INTO %s (name, locked_by, locked_at, lock_until)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE SET locked_by = $2, locked_at = $3, lock_until = $4
WHERE %s.lock_until <= $3`, p.table, p.table)
	tag, err := p.db.Exec(ctx, sql, cfg.Name, token, now, cfg.LockAtMostUntil)
	if err != nil {
		return nil, &leaselock.LockError{Op: "acquire", Name: cfg.Name, Err: err}
	}
	if tag.RowsAffected() == 0 {
		metrics.Contended.Inc()
		return nil, nil
	}

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

type lock struct {
	provider *Provider
	token    string
	cfg      leaselock.LockConfiguration
	unlocked atomic.Bool
}

func (l *lock) Unlock(ctx context.Context) error {
	if !l.unlocked.CompareAndSwap(false, true) {
		return leaselock.ErrAlreadyUnlocked
	}
	p := l.provider
	now := p.clock.Now()

	if l.cfg.LockAtLeastUntil.After(now) {
		sql := fmt.Sprintf(`UPDATE %s SET lock_until = $3 WHERE name = $1 AND locked_by = $2`, p.table)
		if _, err := p.db.Exec(ctx, sql, l.cfg.Name, l.token, l.cfg.LockAtLeastUntil); err != nil {
			// Worst case the lease runs to its original horizon; not fatal.
			metrics.ExtendFailures.Inc()
		}
		return nil
	}

	sql := fmt.Sprintf(`DELETE FROM %s WHERE name = $1 AND locked_by = $2`, p.table)
	tag, err := p.db.Exec(ctx, sql, l.cfg.Name, l.token)
	if err != nil {
		metrics.ReleaseFailures.Inc()
		return &leaselock.LockError{Op: "release", Name: l.cfg.Name, Err: err}
	}
	// No row matched means the lease lapsed and the name moved on to another
	// holder; there is nothing to announce.
	if tag.RowsAffected() == 1 {
		metrics.Released.Inc()
		p.publish(ctx, lockbus.ReleasedSubject(l.cfg.Name), lockbus.Event{
			Name:   l.cfg.Name,
			Kind:   lockbus.KindReleased,
			Holder: l.token,
			At:     now,
		})
	}
	return nil
}

func (l *lock) Extend(ctx context.Context, lockAtMostFor, lockAtLeastFor time.Duration) (leaselock.SimpleLock, error) {
	p := l.provider
	now := p.clock.Now()
	cfg := leaselock.NewLockConfiguration(now, l.cfg.Name, lockAtMostFor, lockAtLeastFor)
	// A rejected window must leave the handle usable; only a real extension
	// attempt consumes it.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lockAtMostFor <= 0 {
		return nil, nil
	}
	if !l.unlocked.CompareAndSwap(false, true) {
		return nil, leaselock.ErrAlreadyUnlocked
	}

	sql := fmt.Sprintf(`UPDATE %s SET lock_until = $3 WHERE name = $1 AND locked_by = $2 AND lock_until > $4`, p.table)
	tag, err := p.db.Exec(ctx, sql, cfg.Name, l.token, cfg.LockAtMostUntil, now)
	if err != nil {
		return nil, &leaselock.LockError{Op: "extend", Name: cfg.Name, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return &lock{provider: p, token: l.token, cfg: cfg}, nil
}
