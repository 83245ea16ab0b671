package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecorder streams audit records to a topic, keyed by resource id so
// all records for one appointment land on the same partition.
type KafkaRecorder struct {
	writer messageWriter
}

func NewKafkaRecorder(brokers []string, topic string) *KafkaRecorder {
	return &KafkaRecorder{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
		},
	}
}

func (k *KafkaRecorder) Record(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.ResourceID.String()),
		Value: data,
		Time:  rec.Timestamp,
	}); err != nil {
		return fmt.Errorf("write audit record to kafka: %w", err)
	}
	return nil
}

func (k *KafkaRecorder) Close() error {
	return k.writer.Close()
}
