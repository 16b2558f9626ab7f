package service

import (
	"context"
	"errors"
	"testing"
	"time"

	bufferModel "github.com/Avi18971911/Loom/internal/buffer/model"
	"github.com/Avi18971911/Loom/internal/pipeline/flush/model"
	"github.com/asaskevich/EventBus"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSpanBuffer struct {
	shards    []int32
	flushable map[int32][]bufferModel.FlushableSegment
	confirmed map[int32][]string
}

func newFakeSpanBuffer(shards ...int32) *fakeSpanBuffer {
	return &fakeSpanBuffer{
		shards:    shards,
		flushable: make(map[int32][]bufferModel.FlushableSegment),
		confirmed: make(map[int32][]string),
	}
}

func (fb *fakeSpanBuffer) Ingest(ctx context.Context, shard int32, spans []bufferModel.Span, now int64) error {
	return nil
}

func (fb *fakeSpanBuffer) TakeFlushable(ctx context.Context, shard int32) ([]bufferModel.FlushableSegment, error) {
	segments := fb.flushable[shard]
	fb.flushable[shard] = nil
	return segments, nil
}

func (fb *fakeSpanBuffer) ConfirmFlushed(ctx context.Context, shard int32, claimTokens []string) error {
	fb.confirmed[shard] = append(fb.confirmed[shard], claimTokens...)
	return nil
}

func (fb *fakeSpanBuffer) Backlog(ctx context.Context, shard int32) (int64, error) {
	return int64(len(fb.flushable[shard])), nil
}

func (fb *fakeSpanBuffer) SetAssignedShards(shards []int32) {
	fb.shards = shards
}

func (fb *fakeSpanBuffer) AssignedShards() []int32 {
	return fb.shards
}

type captureEmitter struct {
	failures int
	attempts int
	records  [][]model.SegmentRecord
}

func (ce *captureEmitter) Emit(ctx context.Context, records []model.SegmentRecord) error {
	ce.attempts++
	if ce.attempts <= ce.failures {
		return errors.New("sink unavailable")
	}
	ce.records = append(ce.records, records)
	return nil
}

func (ce *captureEmitter) Close() error {
	return nil
}

func TestFlusherFlushCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Emits one record per claimed segment and confirms them", func(t *testing.T) {
		buffer := newFakeSpanBuffer(0)
		buffer.flushable[0] = []bufferModel.FlushableSegment{
			newFlushableSegment(0, "trace1", "token1", [][]byte{[]byte(`{"span_id":"span1"}`), []byte(`{"span_id":"span2"}`)}),
			newFlushableSegment(0, "trace2", "token2", [][]byte{[]byte(`{"span_id":"span3"}`)}),
		}
		emitter := &captureEmitter{}
		f := getNewFlusher(buffer, emitter)

		err := f.FlushCycle(ctx)
		require.Nil(t, err)
		require.Len(t, emitter.records, 1)
		records := emitter.records[0]
		require.Len(t, records, 2)
		assert.Equal(t, "trace1", records[0].TraceID)
		assert.Equal(t, int64(5), records[0].ProjectID)
		assert.Equal(t,
			[]jsoniter.RawMessage{[]byte(`{"span_id":"span1"}`), []byte(`{"span_id":"span2"}`)},
			records[0].Spans,
		)
		assert.Equal(t, []string{"token1", "token2"}, buffer.confirmed[0])
	})

	t.Run("Does nothing when no segment is due", func(t *testing.T) {
		buffer := newFakeSpanBuffer(0)
		emitter := &captureEmitter{}
		f := getNewFlusher(buffer, emitter)

		err := f.FlushCycle(ctx)
		require.Nil(t, err)
		assert.Empty(t, emitter.records)
		assert.Empty(t, buffer.confirmed[0])
	})

	t.Run("Covers every owned shard in one cycle", func(t *testing.T) {
		buffer := newFakeSpanBuffer(0, 1)
		buffer.flushable[0] = []bufferModel.FlushableSegment{
			newFlushableSegment(0, "trace1", "token1", [][]byte{[]byte(`{}`)}),
		}
		buffer.flushable[1] = []bufferModel.FlushableSegment{
			newFlushableSegment(1, "trace2", "token2", [][]byte{[]byte(`{}`)}),
		}
		emitter := &captureEmitter{}
		f := getNewFlusher(buffer, emitter)

		err := f.FlushCycle(ctx)
		require.Nil(t, err)
		assert.Len(t, emitter.records, 2)
		assert.Equal(t, []string{"token1"}, buffer.confirmed[0])
		assert.Equal(t, []string{"token2"}, buffer.confirmed[1])
	})

	t.Run("Retries emission until the sink accepts", func(t *testing.T) {
		buffer := newFakeSpanBuffer(0)
		buffer.flushable[0] = []bufferModel.FlushableSegment{
			newFlushableSegment(0, "trace1", "token1", [][]byte{[]byte(`{}`)}),
		}
		emitter := &captureEmitter{failures: 1}
		f := getNewFlusher(buffer, emitter)

		err := f.FlushCycle(ctx)
		require.Nil(t, err)
		assert.Equal(t, 2, emitter.attempts)
		assert.Equal(t, []string{"token1"}, buffer.confirmed[0])
	})

	t.Run("Leaves segments unconfirmed when retries are exhausted", func(t *testing.T) {
		buffer := newFakeSpanBuffer(0)
		buffer.flushable[0] = []bufferModel.FlushableSegment{
			newFlushableSegment(0, "trace1", "token1", [][]byte{[]byte(`{}`)}),
		}
		emitter := &captureEmitter{failures: 1000}
		f := NewFlusher(buffer, emitter, EventBus.New(), time.Millisecond, zap.NewNop())

		err := f.FlushCycle(ctx)
		require.NotNil(t, err)
		assert.Empty(t, buffer.confirmed[0])
		assert.Empty(t, emitter.records)
	})

	t.Run("Publishes a flush summary for each emitting shard", func(t *testing.T) {
		buffer := newFakeSpanBuffer(0)
		buffer.flushable[0] = []bufferModel.FlushableSegment{
			newFlushableSegment(0, "trace1", "token1", [][]byte{[]byte(`{}`), []byte(`{}`)}),
			newFlushableSegment(0, "trace2", "token2", [][]byte{[]byte(`{}`)}),
		}
		emitter := &captureEmitter{}
		bus := EventBus.New()
		published := make(chan string, 1)
		err := bus.SubscribeAsync(FlushSummaryTopic, func(arg string) {
			published <- arg
		}, false)
		require.Nil(t, err)
		f := NewFlusher(buffer, emitter, bus, 0, zap.NewNop())

		err = f.FlushCycle(ctx)
		require.Nil(t, err)
		bus.WaitAsync()
		var summary model.FlushSummary
		require.Nil(t, json.Unmarshal([]byte(<-published), &summary))
		assert.Equal(t, model.FlushSummary{Shard: 0, SegmentCount: 2, SpanCount: 3}, summary)
	})
}

func getNewFlusher(buffer *fakeSpanBuffer, emitter SegmentEmitter) *Flusher {
	return NewFlusher(buffer, emitter, EventBus.New(), 0, zap.NewNop())
}

func newFlushableSegment(
	shard int32,
	traceID string,
	claimToken string,
	payloads [][]byte,
) bufferModel.FlushableSegment {
	return bufferModel.FlushableSegment{
		Key:        bufferModel.SegmentKey{Shard: shard, TraceID: traceID},
		ProjectID:  5,
		CreatedAt:  0,
		LastUpdate: 10,
		ClaimToken: claimToken,
		Payloads:   payloads,
	}
}
