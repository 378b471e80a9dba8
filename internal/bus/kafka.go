package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards bus events to a Kafka topic as JSON, keyed by the
// event key so events about one entity stay ordered within a partition.
type KafkaSink struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewKafkaWriter builds a synchronous writer for brokers (comma separated).
func NewKafkaWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// NewKafkaSink wraps w. A zero timeout defaults to 5 seconds per write.
func NewKafkaSink(w MessageWriter, timeout time.Duration) *KafkaSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaSink{writer: w, timeout: timeout}
}

// Attach subscribes the sink to every event on b.
func (k *KafkaSink) Attach(b *EventBus) func() {
	return b.Subscribe(AllEvents, k.Handle)
}

// Handle writes one event. Failures are logged; the bus keeps running.
func (k *KafkaSink) Handle(ev *Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Kafka sink encode failed", "type", ev.Type, "error", err)
		return
	}
	msg := kafka.Message{
		Key:     []byte(ev.Key),
		Value:   value,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(ev.Type)}},
		Time:    ev.At,
	}
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		slog.Warn("Kafka sink write failed", "type", ev.Type, "key", ev.Key, "error", err)
	}
}

// Close closes the underlying writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
