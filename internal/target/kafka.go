package target

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"batchable/internal/batcher"
)

// MessageWriter is the part of kafka.Writer used by KafkaTarget
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTarget publishes each batch as one message keyed by handler name
type KafkaTarget struct {
	topic  string
	writer MessageWriter
	logger zerolog.Logger
}

// NewKafkaTarget creates a KafkaTarget writing to topic on brokers
func NewKafkaTarget(brokers []string, topic string, logger zerolog.Logger) *KafkaTarget {
	return NewKafkaTargetWithWriter(topic, &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.LeastBytes{},
	}, logger)
}

// NewKafkaTargetWithWriter creates a KafkaTarget over an existing writer
func NewKafkaTargetWithWriter(topic string, writer MessageWriter, logger zerolog.Logger) *KafkaTarget {
	return &KafkaTarget{
		topic:  topic,
		writer: writer,
		logger: logger,
	}
}

// HandleBatch publishes the batch
func (t *KafkaTarget) HandleBatch(ctx context.Context, batch *batcher.Batch) error {
	data, err := json.Marshal(NewPayload(batch))
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	err = t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(batch.Key),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "batch-id", Value: []byte(batch.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", t.topic, err)
	}

	t.logger.Debug().
		Str("topic", t.topic).
		Str("batchId", batch.ID).
		Int("bytes", len(data)).
		Msg("batch published")
	return nil
}

// Type returns "kafka"
func (t *KafkaTarget) Type() string { return "kafka" }

// Close flushes and closes the writer
func (t *KafkaTarget) Close() error {
	return t.writer.Close()
}
