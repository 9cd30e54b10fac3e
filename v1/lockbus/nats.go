package lockbus

import (
	"context"
	"sync"

	nats "github.com/nats-io/nats.go"
)

type natsSubscription struct {
	sub   *nats.Subscription
	chans []chan []byte
}

// NATSBus implements Bus using a NATS backend.
type NATSBus struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*natsSubscription
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn, subs: make(map[string]*natsSubscription)}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.conn.Publish(subject, data)
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, subject string) (chan []byte, error) {
	ch := make(chan []byte, 1)
	b.mu.Lock()
	sub := b.subs[subject]
	if sub == nil {
		ns, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
			b.mu.Lock()
			s := b.subs[subject]
			if s == nil {
				b.mu.Unlock()
				return
			}
			chans := append([]chan []byte(nil), s.chans...)
			b.mu.Unlock()
			for _, c := range chans {
				select {
				case c <- msg.Data:
				default:
				}
			}
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub = &natsSubscription{sub: ns}
		b.subs[subject] = sub
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), subject, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, subject string, ch chan []byte) error {
	b.mu.Lock()
	sub := b.subs[subject]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	for i, c := range sub.chans {
		if c == ch {
			sub.chans[i] = sub.chans[len(sub.chans)-1]
			sub.chans = sub.chans[:len(sub.chans)-1]
			close(c)
			break
		}
	}
	if len(sub.chans) == 0 {
		delete(b.subs, subject)
		b.mu.Unlock()
		return sub.sub.Unsubscribe()
	}
	b.mu.Unlock()
	return nil
}
