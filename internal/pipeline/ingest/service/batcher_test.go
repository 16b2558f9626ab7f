package service

import (
	"testing"
	"time"

	"github.com/Avi18971911/Loom/internal/pipeline/ingest/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatcherAdd(t *testing.T) {
	t.Run("Completes the batch once the size bound is reached", func(t *testing.T) {
		b := NewBatcher(2, time.Minute)
		assert.Nil(t, b.Add(newTestMessage(0, 1, 10)))
		batch := b.Add(newTestMessage(0, 2, 11))
		require.NotNil(t, batch)
		assert.Len(t, batch.Messages, 2)
		assert.Equal(t, 0, b.Pending())
	})

	t.Run("Preserves message order within the batch", func(t *testing.T) {
		b := NewBatcher(3, time.Minute)
		b.Add(newTestMessage(0, 1, 30))
		b.Add(newTestMessage(0, 2, 10))
		batch := b.Add(newTestMessage(0, 3, 20))
		require.NotNil(t, batch)
		offsets := []int64{batch.Messages[0].Offset, batch.Messages[1].Offset, batch.Messages[2].Offset}
		assert.Equal(t, []int64{1, 2, 3}, offsets)
	})

	t.Run("Tracks the highest offset per source partition", func(t *testing.T) {
		b := NewBatcher(3, time.Minute)
		b.Add(newTestMessageOnPartition(0, 5, 10))
		b.Add(newTestMessageOnPartition(1, 9, 11))
		batch := b.Add(newTestMessageOnPartition(0, 7, 12))
		require.NotNil(t, batch)
		assert.Equal(t, map[int32]int64{0: 7, 1: 9}, batch.HighOffsets)
	})
}

func TestBatcherTakeIfExpired(t *testing.T) {
	t.Run("Holds the batch while the accumulation window is open", func(t *testing.T) {
		b := NewBatcher(100, time.Minute)
		b.Add(newTestMessage(0, 1, 10))
		assert.Nil(t, b.TakeIfExpired(time.Now()))
		assert.Equal(t, 1, b.Pending())
	})

	t.Run("Returns the batch once the window has passed", func(t *testing.T) {
		b := NewBatcher(100, time.Millisecond)
		b.Add(newTestMessage(0, 1, 10))
		batch := b.TakeIfExpired(time.Now().Add(time.Second))
		require.NotNil(t, batch)
		assert.Len(t, batch.Messages, 1)
	})

	t.Run("Returns nothing when no batch is open", func(t *testing.T) {
		b := NewBatcher(100, time.Millisecond)
		assert.Nil(t, b.TakeIfExpired(time.Now().Add(time.Hour)))
	})
}

func TestBatcherFlush(t *testing.T) {
	t.Run("Drains the open batch regardless of bounds", func(t *testing.T) {
		b := NewBatcher(100, time.Minute)
		b.Add(newTestMessage(0, 1, 10))
		batch := b.Flush()
		require.NotNil(t, batch)
		assert.Len(t, batch.Messages, 1)
		assert.Nil(t, b.Flush())
	})
}

func newTestMessage(partition int32, offset int64, timestamp int64) model.TimestampedMessage {
	return model.TimestampedMessage{
		Timestamp: timestamp,
		Payload:   []byte(`{}`),
		Topic:     "ingest-spans",
		Partition: partition,
		Offset:    offset,
	}
}

func newTestMessageOnPartition(partition int32, offset int64, timestamp int64) model.TimestampedMessage {
	return newTestMessage(partition, offset, timestamp)
}
