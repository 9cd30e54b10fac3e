package lockbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newRedisBus(t *testing.T) (*RedisBus, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedisBus(client), context.Background()
}

func TestRedisBusPublishSubscribe(t *testing.T) {
	bus, ctx := newRedisBus(t)

	ch, err := bus.Subscribe(ctx, "lock:job")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "lock:job", []byte("payload")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case data := <-ch:
		if string(data) != "payload" {
			t.Fatalf("unexpected payload %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for publish")
	}
}

func TestRedisBusFanOut(t *testing.T) {
	bus, ctx := newRedisBus(t)

	ch1, err := bus.Subscribe(ctx, "lock:job")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ch2, err := bus.Subscribe(ctx, "lock:job")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, "lock:job", []byte("payload")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i, ch := range []chan []byte{ch1, ch2} {
		select {
		case data := <-ch:
			if string(data) != "payload" {
				t.Fatalf("subscriber %d: unexpected payload %q", i, data)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timeout", i)
		}
	}
}

func TestRedisBusUnsubscribe(t *testing.T) {
	bus, ctx := newRedisBus(t)

	ch, err := bus.Subscribe(ctx, "lock:job")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Unsubscribe(ctx, "lock:job", ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after unsubscribe")
	}
}
