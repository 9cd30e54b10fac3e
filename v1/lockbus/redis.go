package lockbus

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisBusTimeout = 5 * time.Second

type redisSubscription struct {
	pubsub *redis.PubSub
	chans  []chan []byte
}

// RedisBus implements Bus using Redis pub/sub. Events reach every node
// connected to the same Redis the locks live in, so no extra infrastructure
// is needed.
type RedisBus struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]*redisSubscription
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, subs: make(map[string]*redisSubscription)}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	return b.client.Publish(cctx, subject, data).Err()
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context, subject string) (chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan []byte, 1)
	b.mu.Lock()
	sub, ok := b.subs[subject]
	if ok {
		sub.chans = append(sub.chans, ch)
		b.mu.Unlock()
	} else {
		b.mu.Unlock()
		cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
		ps := b.client.Subscribe(cctx, subject)
		_, err := ps.Receive(cctx)
		cancel()
		if err != nil {
			_ = ps.Close()
			return nil, err
		}
		b.mu.Lock()
		if existing, ok := b.subs[subject]; ok {
			// Lost the race to another Subscribe for the same subject.
			existing.chans = append(existing.chans, ch)
			b.mu.Unlock()
			_ = ps.Close()
		} else {
			sub = &redisSubscription{pubsub: ps, chans: []chan []byte{ch}}
			b.subs[subject] = sub
			b.mu.Unlock()
			go b.dispatch(subject, sub)
		}
	}

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), subject, ch)
	}()
	return ch, nil
}

func (b *RedisBus) dispatch(subject string, sub *redisSubscription) {
	for msg := range sub.pubsub.Channel() {
		b.mu.Lock()
		chans := append([]chan []byte(nil), sub.chans...)
		b.mu.Unlock()
		for _, ch := range chans {
			select {
			case ch <- []byte(msg.Payload):
			default:
			}
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, subject string, ch chan []byte) error {
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
		cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
		defer cancel()
		_ = sub.pubsub.Unsubscribe(cctx, subject)
		return sub.pubsub.Close()
	}
	b.mu.Unlock()
	return nil
}
