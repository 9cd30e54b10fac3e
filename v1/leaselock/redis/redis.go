// Package redis implements leaselock.LockProvider on top of Redis, using
// `SET key value NX PX ttl` for acquisition and Lua scripts for the
// ownership-guarded release and expiry updates.
//
// Mutual exclusion rests entirely on Redis serializing writes to a key: of
// two concurrent acquisitions exactly one observes "newly created". The
// provider keeps no lock state in memory; the entry in Redis is the only
// record of who holds a lock.
package redis

import (
	"context"
	stdErrors "errors"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-leaselock/v1/leaselock"
	"github.com/mirkobrombin/go-leaselock/v1/lockbus"
	"github.com/mirkobrombin/go-leaselock/v1/metrics"
)

const (
	// DefaultKeyPrefix is the first segment of every lock key.
	DefaultKeyPrefix = "job-lock"
	// DefaultEnvironment is the key segment separating deployments that
	// share one Redis.
	DefaultEnvironment = "default"

	defaultOpTimeout = 5 * time.Second
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-leaselock/v1/leaselock/redis")

// Both scripts are single atomic check-then-act steps on the server. A plain
// GET followed by DEL or PEXPIRE would race against another instance
// acquiring the key between the two commands.
var (
	deleteIfMatch = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)
	expireIfMatch = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
else
    return 0
end
`)
)

// Provider implements leaselock.LockProvider using a Redis backend.
type Provider struct {
	client      *redis.Client
	environment string
	keyPrefix   string
	clock       leaselock.Clock
	bus         lockbus.Bus
	timeout     time.Duration
	host        string
}

// Option configures a Provider.
type Option func(*Provider)

// WithEnvironment sets the environment key segment.
func WithEnvironment(environment string) Option {
	return func(p *Provider) { p.environment = environment }
}

// WithKeyPrefix sets the lock key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(p *Provider) { p.keyPrefix = prefix }
}

// WithClock sets the time source used for lease math.
func WithClock(clock leaselock.Clock) Option {
	return func(p *Provider) { p.clock = clock }
}

// WithTimeout sets the per-operation timeout for Redis calls.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithBus makes the provider publish acquire/release events on bus. Delivery
// is fire and forget; bus failures never affect lock outcomes.
func WithBus(bus lockbus.Bus) Option {
	return func(p *Provider) { p.bus = bus }
}

// NewProvider returns a Provider using the given client.
func NewProvider(client *redis.Client, opts ...Option) *Provider {
	p := &Provider{
		client:      client,
		environment: DefaultEnvironment,
		keyPrefix:   DefaultKeyPrefix,
		clock:       leaselock.SystemClock{},
		timeout:     defaultOpTimeout,
		host:        hostname(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Lock implements leaselock.LockProvider. It issues exactly one SETNX; a key
// that already exists means another instance holds the lock (or a stale
// unexpired entry remains) and yields (nil, nil). A lock window that already
// expired also yields (nil, nil) without touching Redis, so a degenerate TTL
// is never forwarded to the store.
func (p *Provider) Lock(ctx context.Context, cfg leaselock.LockConfiguration) (leaselock.SimpleLock, error) {
	ctx, span := tracer.Start(ctx, "leaselock.Lock", trace.WithAttributes(attribute.String("leaselock.name", cfg.Name)))
	defer span.End()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := p.clock.Now()
	remaining := cfg.LockAtMostUntil.Sub(now)
	if remaining <= 0 {
		return nil, nil
	}

	key := lockKey(p.keyPrefix, p.environment, cfg.Name)
	token := lockToken(now, p.host)

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ok, err := p.client.SetNX(cctx, key, token, remaining).Result()
	if err != nil {
		return nil, &leaselock.LockError{Op: "acquire", Name: cfg.Name, Err: err}
	}
	if !ok {
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
	return &Lock{provider: p, key: key, token: token, cfg: cfg}, nil
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

// Lock is a held lease backed by a Redis entry. It is created only by
// Provider.Lock and becomes inert after its first Unlock.
type Lock struct {
	provider *Provider
	key      string
	token    string
	cfg      leaselock.LockConfiguration
	unlocked atomic.Bool
}

// Key returns the Redis key holding the lease entry.
func (l *Lock) Key() string { return l.key }

// Token returns the ownership token stored as the entry's value.
func (l *Lock) Token() string { return l.token }

// Unlock implements leaselock.SimpleLock. If LockAtLeastUntil has passed the
// entry is deleted; a failure there is escalated because the caller can no
// longer assume the lock is gone. Otherwise the entry's TTL is reset so it
// lapses exactly at LockAtLeastUntil; a failure there only means the lease
// runs out at its original horizon instead, so it is counted and swallowed.
func (l *Lock) Unlock(ctx context.Context) error {
	if !l.unlocked.CompareAndSwap(false, true) {
		return leaselock.ErrAlreadyUnlocked
	}
	ctx, span := tracer.Start(ctx, "leaselock.Unlock", trace.WithAttributes(attribute.String("leaselock.name", l.cfg.Name)))
	defer span.End()

	now := l.provider.clock.Now()
	keepFor := l.cfg.LockAtLeastUntil.Sub(now)

	cctx, cancel := context.WithTimeout(ctx, l.provider.timeout)
	defer cancel()

	if keepFor <= 0 {
		res, err := deleteIfMatch.Run(cctx, l.provider.client, []string{l.key}, l.token).Int64()
		if err != nil && !stdErrors.Is(err, redis.Nil) {
			metrics.ReleaseFailures.Inc()
			return &leaselock.LockError{Op: "release", Name: l.cfg.Name, Err: err}
		}
		// A count of 0 means the lease expired and the key now belongs to
		// someone else; there is nothing to announce.
		if res == 1 {
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

	_, err := expireIfMatch.Run(cctx, l.provider.client, []string{l.key}, l.token, keepFor.Milliseconds()).Result()
	if err != nil && !stdErrors.Is(err, redis.Nil) {
		metrics.ExtendFailures.Inc()
	}
	return nil
}

// Extend implements leaselock.SimpleLock. The same token keeps marking
// ownership; only the expiry moves. Returns (nil, nil) when the entry no
// longer carries this handle's token.
func (l *Lock) Extend(ctx context.Context, lockAtMostFor, lockAtLeastFor time.Duration) (leaselock.SimpleLock, error) {
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
	if !l.unlocked.CompareAndSwap(false, true) {
		return nil, leaselock.ErrAlreadyUnlocked
	}
	ctx, span := tracer.Start(ctx, "leaselock.Extend", trace.WithAttributes(attribute.String("leaselock.name", l.cfg.Name)))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, l.provider.timeout)
	defer cancel()
	res, err := expireIfMatch.Run(cctx, l.provider.client, []string{l.key}, l.token, lockAtMostFor.Milliseconds()).Int64()
	if err != nil && !stdErrors.Is(err, redis.Nil) {
		return nil, &leaselock.LockError{Op: "extend", Name: l.cfg.Name, Err: err}
	}
	if res == 0 {
		return nil, nil
	}
	return &Lock{provider: l.provider, key: l.key, token: l.token, cfg: cfg}, nil
}
