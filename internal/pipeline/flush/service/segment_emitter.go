package service

import (
	"context"
	"fmt"

	"github.com/Avi18971911/Loom/internal/pipeline/flush/model"
	"github.com/IBM/sarama"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SegmentEmitter is the downstream sink boundary. Emit must only return nil
// once every record has been accepted; the flusher treats anything else as
// not delivered and keeps the segments claimed.
type SegmentEmitter interface {
	Emit(ctx context.Context, records []model.SegmentRecord) error
	Close() error
}

// KafkaSegmentEmitter produces one JSON record per flushed segment to the
// segments topic, keyed by trace id so downstream consumers can dedupe
// per-trace redeliveries within a partition.
type KafkaSegmentEmitter struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

func NewKafkaSegmentEmitter(
	producer sarama.SyncProducer,
	topic string,
	logger *zap.Logger,
) *KafkaSegmentEmitter {
	return &KafkaSegmentEmitter{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func (se *KafkaSegmentEmitter) Emit(ctx context.Context, records []model.SegmentRecord) error {
	if len(records) == 0 {
		return nil
	}
	messages := make([]*sarama.ProducerMessage, 0, len(records))
	for _, record := range records {
		encoded, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode segment record for trace %s: %w", record.TraceID, err)
		}
		messages = append(messages, &sarama.ProducerMessage{
			Topic: se.topic,
			Key:   sarama.StringEncoder(record.TraceID),
			Value: sarama.ByteEncoder(encoded),
		})
	}
	if err := se.producer.SendMessages(messages); err != nil {
		return fmt.Errorf("failed to produce %d segment records: %w", len(messages), err)
	}
	return nil
}

func (se *KafkaSegmentEmitter) Close() error {
	return se.producer.Close()
}
