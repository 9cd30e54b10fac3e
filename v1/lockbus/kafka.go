package lockbus

import (
	"context"
	"sync"

	sarama "github.com/IBM/sarama"
)

type kafkaSubscription struct {
	pc    sarama.PartitionConsumer
	chans []chan []byte
}

// KafkaBus implements Bus using a Kafka backend. Each subject maps to a
// topic; topics are expected to exist or auto-creation must be enabled.
type KafkaBus struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer
	mu       sync.Mutex
	subs     map[string]*kafkaSubscription
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers.
func NewKafkaBus(brokers []string, cfg *sarama.Config) (*KafkaBus, error) {
	if !cfg.Producer.Return.Successes {
		cfg.Producer.Return.Successes = true
	}
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	return &KafkaBus{
		producer: producer,
		consumer: consumer,
		subs:     make(map[string]*kafkaSubscription),
	}, nil
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{Topic: subject, Value: sarama.ByteEncoder(data)}
	_, _, err := b.producer.SendMessage(msg)
	return err
}

// Subscribe implements Bus.Subscribe.
func (b *KafkaBus) Subscribe(ctx context.Context, subject string) (chan []byte, error) {
	ch := make(chan []byte, 1)
	b.mu.Lock()
	sub := b.subs[subject]
	if sub == nil {
		pc, err := b.consumer.ConsumePartition(subject, 0, sarama.OffsetNewest)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub = &kafkaSubscription{pc: pc}
		b.subs[subject] = sub
		go b.dispatch(subject, sub)
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), subject, ch)
	}()
	return ch, nil
}

func (b *KafkaBus) dispatch(subject string, sub *kafkaSubscription) {
	for msg := range sub.pc.Messages() {
		b.mu.Lock()
		s := b.subs[subject]
		if s == nil {
			b.mu.Unlock()
			return
		}
		chans := append([]chan []byte(nil), s.chans...)
		b.mu.Unlock()
		for _, ch := range chans {
			select {
			case ch <- msg.Value:
			default:
			}
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *KafkaBus) Unsubscribe(ctx context.Context, subject string, ch chan []byte) error {
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
		return sub.pc.Close()
	}
	b.mu.Unlock()
	return nil
}

// Close releases resources used by the KafkaBus.
func (b *KafkaBus) Close() {
	_ = b.producer.Close()
	_ = b.consumer.Close()
}
