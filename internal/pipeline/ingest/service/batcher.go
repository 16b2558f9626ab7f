package service

import (
	"time"

	"github.com/Avi18971911/Loom/internal/pipeline/ingest/model"
)

const DefaultMaxBatchSize = 100
const DefaultMaxBatchWait = 1 * time.Second

// Batcher accumulates timestamped messages into batches bounded by size and
// by wall-clock accumulation time, whichever trips first. Message order is
// preserved. The caller drives the time bound by polling TakeIfExpired.
type Batcher struct {
	maxSize  int
	maxWait  time.Duration
	current  *model.MessageBatch
	deadline time.Time
}

func NewBatcher(maxSize int, maxWait time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultMaxBatchSize
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxBatchWait
	}
	return &Batcher{maxSize: maxSize, maxWait: maxWait}
}

// Add appends a message to the open batch, starting one if necessary, and
// returns the batch once the size bound is reached.
func (b *Batcher) Add(message model.TimestampedMessage) *model.MessageBatch {
	if b.current == nil {
		b.current = &model.MessageBatch{
			Messages:    make([]model.TimestampedMessage, 0, b.maxSize),
			Topic:       message.Topic,
			HighOffsets: make(map[int32]int64),
		}
		b.deadline = time.Now().Add(b.maxWait)
	}
	b.current.Messages = append(b.current.Messages, message)
	if high, ok := b.current.HighOffsets[message.Partition]; !ok || message.Offset > high {
		b.current.HighOffsets[message.Partition] = message.Offset
	}
	if len(b.current.Messages) >= b.maxSize {
		return b.take()
	}
	return nil
}

// TakeIfExpired returns the open batch once its accumulation window has
// passed, and nil otherwise.
func (b *Batcher) TakeIfExpired(now time.Time) *model.MessageBatch {
	if b.current == nil || now.Before(b.deadline) {
		return nil
	}
	return b.take()
}

// Flush returns whatever is accumulated regardless of bounds; used on
// shutdown so no received message is abandoned in the batcher.
func (b *Batcher) Flush() *model.MessageBatch {
	if b.current == nil {
		return nil
	}
	return b.take()
}

func (b *Batcher) Pending() int {
	if b.current == nil {
		return 0
	}
	return len(b.current.Messages)
}

func (b *Batcher) take() *model.MessageBatch {
	batch := b.current
	b.current = nil
	return batch
}
