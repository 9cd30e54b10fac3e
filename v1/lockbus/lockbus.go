// Package lockbus propagates lock lifecycle events across nodes. Providers
// publish an event when a lease is acquired or released; other instances can
// subscribe for observability or to trigger opportunistic re-acquisition.
// Delivery is best effort: lock correctness never depends on the bus.
package lockbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Event kinds published by providers.
const (
	KindAcquired = "acquired"
	KindReleased = "released"
)

// Event describes a lock lifecycle transition.
type Event struct {
	Name   string    `json:"name"`
	Kind   string    `json:"kind"`
	Holder string    `json:"holder,omitempty"`
	At     time.Time `json:"at"`
}

// Encode serializes the event for publishing.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a payload produced by Event.Encode.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// AcquiredSubject returns the subject acquisition events for name are
// published on.
func AcquiredSubject(name string) string { return "lock:" + name }

// ReleasedSubject returns the subject release events for name are published on.
func ReleasedSubject(name string) string { return "unlock:" + name }

// Bus is a minimal pub/sub abstraction carrying event payloads.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe returns a channel receiving payloads for subject until the
	// context is canceled or Unsubscribe is called.
	Subscribe(ctx context.Context, subject string) (chan []byte, error)
	Unsubscribe(ctx context.Context, subject string, ch chan []byte) error
}

// InMemoryBus is a local implementation of Bus, mainly for testing and
// single-process deployments.
type InMemoryBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan []byte)}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	chans := append([]chan []byte(nil), b.subs[subject]...)
	b.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, subject string) (chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan []byte, 1)
	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), subject, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, subject string, ch chan []byte) error {
	b.mu.Lock()
	subs := b.subs[subject]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[subject] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, subject)
	}
	b.mu.Unlock()
	return nil
}
