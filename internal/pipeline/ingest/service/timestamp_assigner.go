package service

import (
	"time"

	"github.com/Avi18971911/Loom/internal/pipeline/ingest/model"
	"github.com/IBM/sarama"
)

// TimestampAssigner derives the logical timestamp that drives every
// time-based decision downstream. The producer timestamp wins; wall clock is
// only a fallback for records that carry none. Receive time is never used, so
// consumer backlog cannot make segments look idle.
type TimestampAssigner struct {
	nowFn func() time.Time
}

func NewTimestampAssigner() *TimestampAssigner {
	return &TimestampAssigner{nowFn: time.Now}
}

func (ta *TimestampAssigner) Assign(message *sarama.ConsumerMessage) model.TimestampedMessage {
	timestamp := message.Timestamp
	if timestamp.IsZero() {
		timestamp = ta.nowFn()
	}
	return model.TimestampedMessage{
		Timestamp: timestamp.Unix(),
		Payload:   message.Value,
		Topic:     message.Topic,
		Partition: message.Partition,
		Offset:    message.Offset,
	}
}
