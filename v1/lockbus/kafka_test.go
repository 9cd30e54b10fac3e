package lockbus

import (
	"context"
	"os"
	"testing"
	"time"

	sarama "github.com/IBM/sarama"
	"github.com/google/uuid"
)

func newKafkaBus(t *testing.T) (*KafkaBus, context.Context) {
	t.Helper()
	addr := os.Getenv("LEASELOCK_TEST_KAFKA_ADDR")
	if addr == "" {
		t.Skip("LEASELOCK_TEST_KAFKA_ADDR not set, skipping Kafka integration tests")
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	bus, err := NewKafkaBus([]string{addr}, config)
	if err != nil {
		t.Fatalf("NewKafkaBus: %v", err)
	}
	t.Cleanup(func() {
		bus.Close()
	})
	return bus, context.Background()
}

func TestKafkaBusPublishSubscribe(t *testing.T) {
	bus, ctx := newKafkaBus(t)
	topic := "lock-" + uuid.NewString()

	ch, err := bus.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Wait for the consumer to attach before producing.
	time.Sleep(2 * time.Second)

	if err := bus.Publish(ctx, topic, []byte("payload")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case data := <-ch:
		if string(data) != "payload" {
			t.Fatalf("unexpected payload %q", data)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for publish")
	}
}
