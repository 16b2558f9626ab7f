package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	admissionService "github.com/Avi18971911/Loom/internal/admission/service"
	bufferService "github.com/Avi18971911/Loom/internal/buffer/service"
	decodeService "github.com/Avi18971911/Loom/internal/pipeline/decode/service"
	flushModel "github.com/Avi18971911/Loom/internal/pipeline/flush/model"
	flushService "github.com/Avi18971911/Loom/internal/pipeline/flush/service"
	"github.com/IBM/sarama"
	"github.com/asaskevich/EventBus"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const spanInputTopic = "ingest-spans"

func TestSpanConsumerGroupHandler(t *testing.T) {
	t.Run("Buffers a full batch and marks its offsets", func(t *testing.T) {
		env := newTestPipelineEnv(t, PipelineSettings{MaxBatchSize: 2})
		defer env.stop(t)

		env.claim.messageChan <- spanMessage("traceA", "span1", "", 100, 0)
		env.claim.messageChan <- spanMessage("traceA", "span2", "span1", 100, 1)

		assert.Eventually(t, func() bool {
			backlog, err := env.buffer.Backlog(context.Background(), 0)
			return err == nil && backlog == 1
		}, time.Second, 10*time.Millisecond)
		assert.Eventually(t, func() bool {
			return env.session.markedOffset(spanInputTopic, 0) == 2
		}, time.Second, 10*time.Millisecond)
		assert.Eventually(t, func() bool {
			return env.session.commitCount() >= 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("Flushes idle segments when the flush ticker fires", func(t *testing.T) {
		env := newTestPipelineEnv(t, PipelineSettings{MaxBatchSize: 2})
		defer env.stop(t)

		first := spanMessage("traceA", "span1", "", 100, 0)
		second := spanMessage("traceA", "span2", "span1", 100, 1)
		env.claim.messageChan <- first
		env.claim.messageChan <- second
		assert.Eventually(t, func() bool {
			backlog, err := env.buffer.Backlog(context.Background(), 0)
			return err == nil && backlog == 1
		}, time.Second, 10*time.Millisecond)

		// a later batch advances the logical watermark past the idle threshold
		env.claim.messageChan <- spanMessage("traceB", "span3", "", 225, 2)
		env.claim.messageChan <- spanMessage("traceB", "span4", "", 225, 3)
		assert.Eventually(t, func() bool {
			backlog, err := env.buffer.Backlog(context.Background(), 0)
			return err == nil && backlog == 2
		}, time.Second, 10*time.Millisecond)

		env.mockClock.Add(DefaultFlushInterval)

		assert.Eventually(t, func() bool {
			return len(env.emitter.emitted()) == 1
		}, time.Second, 10*time.Millisecond)
		records := env.emitter.emitted()[0]
		require.Len(t, records, 1)
		assert.Equal(t, "traceA", records[0].TraceID)
		assert.Equal(t, int64(5), records[0].ProjectID)
		assert.Equal(t,
			[]jsoniter.RawMessage{first.Value, second.Value},
			records[0].Spans,
		)
		backlog, err := env.buffer.Backlog(context.Background(), 0)
		require.Nil(t, err)
		assert.Equal(t, int64(1), backlog)
	})

	t.Run("Produces identical flush output with inline and pooled decode", func(t *testing.T) {
		messages := []*sarama.ConsumerMessage{
			spanMessage("traceA", "span1", "", 100, 0),
			spanMessage("traceA", "span2", "span1", 100, 1),
			spanMessage("traceB", "span3", "", 100, 2),
			spanMessage("traceB", "span4", "span3", 100, 3),
			spanMessage("traceC", "span5", "", 100, 4),
			spanMessage("traceC", "span6", "span5", 100, 5),
			spanMessage("traceZ", "span7", "", 300, 6),
			spanMessage("traceZ", "span8", "", 300, 7),
			spanMessage("traceZ", "span9", "", 300, 8),
		}
		runPipeline := func(settings PipelineSettings) ([][]flushModel.SegmentRecord, int64) {
			env := newTestPipelineEnv(t, settings)
			defer env.stop(t)
			for _, message := range messages {
				env.claim.messageChan <- message
			}
			assert.Eventually(t, func() bool {
				backlog, err := env.buffer.Backlog(context.Background(), 0)
				return err == nil && backlog == 4
			}, time.Second, 10*time.Millisecond)
			env.mockClock.Add(DefaultFlushInterval)
			assert.Eventually(t, func() bool {
				return len(env.emitter.emitted()) == 1
			}, time.Second, 10*time.Millisecond)
			return env.emitter.emitted(), env.session.markedOffset(spanInputTopic, 0)
		}

		inlineRecords, inlineOffset := runPipeline(PipelineSettings{MaxBatchSize: 3})
		pooledRecords, pooledOffset := runPipeline(PipelineSettings{MaxBatchSize: 3, DecodeWorkerCount: 3})

		require.Len(t, inlineRecords, 1)
		require.Len(t, inlineRecords[0], 3)
		assert.Equal(t, inlineRecords, pooledRecords)
		assert.Equal(t, int64(9), inlineOffset)
		assert.Equal(t, inlineOffset, pooledOffset)
	})

	t.Run("Ends the session with an error when a batch cannot be decoded", func(t *testing.T) {
		env := newTestPipelineEnv(t, PipelineSettings{MaxBatchSize: 1})

		env.claim.messageChan <- &sarama.ConsumerMessage{
			Topic:     spanInputTopic,
			Partition: 0,
			Offset:    0,
			Value:     []byte("{"),
			Timestamp: time.Unix(100, 0),
		}

		select {
		case <-env.consumeDone:
		case <-time.After(time.Second):
			t.Fatal("expected the pipeline failure to end the claim")
		}
		err := env.handler.Cleanup(env.session)
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), "failed to decode")
		assert.Equal(t, int64(0), env.session.markedOffset(spanInputTopic, 0))
	})

	t.Run("Drains pending work when the claim closes", func(t *testing.T) {
		env := newTestPipelineEnv(t, PipelineSettings{MaxBatchSize: 100, DecodeWorkerCount: 2})

		env.claim.messageChan <- spanMessage("traceC", "span1", "", 50, 0)
		env.claim.messageChan <- spanMessage("traceC", "span2", "", 50, 1)
		env.claim.messageChan <- spanMessage("traceC", "span3", "", 50, 2)

		close(env.claim.messageChan)
		<-env.consumeDone
		require.Nil(t, env.handler.Cleanup(env.session))

		assert.Equal(t, int64(3), env.session.markedOffset(spanInputTopic, 0))
		assert.GreaterOrEqual(t, env.session.commitCount(), 1)
		assert.Empty(t, env.buffer.AssignedShards())
		env.buffer.SetAssignedShards([]int32{0})
		backlog, err := env.buffer.Backlog(context.Background(), 0)
		require.Nil(t, err)
		assert.Equal(t, int64(1), backlog)
	})

	t.Run("Derives the shard set from the session claims", func(t *testing.T) {
		shards := shardsFromClaims(map[string][]int32{
			"ingest-spans":  {2, 0},
			"ingest-mirror": {1, 2},
		})
		assert.Equal(t, []int32{0, 1, 2}, shards)
	})
}

type testPipelineEnv struct {
	handler     *SpanConsumerGroupHandler
	buffer      *bufferService.MemorySpanBuffer
	emitter     *captureEmitter
	session     *testConsumerGroupSession
	claim       *testConsumerGroupClaim
	mockClock   *clock.Mock
	consumeDone chan struct{}
	stopped     bool
}

func newTestPipelineEnv(t *testing.T, settings PipelineSettings) *testPipelineEnv {
	logger := zap.NewNop()
	buffer := bufferService.NewMemorySpanBuffer(time.Minute, logger)
	emitter := &captureEmitter{}
	flusher := flushService.NewFlusher(buffer, emitter, EventBus.New(), 0, logger)
	decoder := decodeService.NewSpanDecoder(admissionService.NewDenyListPolicy(nil), logger)
	handler := NewSpanConsumerGroupHandler(buffer, flusher, decoder, settings, logger)

	mockClock := clock.NewMock(time.Unix(1700000000, 0))
	session := newTestConsumerGroupSession(
		clock.Context(context.Background(), mockClock),
		map[string][]int32{spanInputTopic: {0}},
	)
	require.Nil(t, handler.Setup(session))

	env := &testPipelineEnv{
		handler:     handler,
		buffer:      buffer,
		emitter:     emitter,
		session:     session,
		claim:       &testConsumerGroupClaim{partition: 0, messageChan: make(chan *sarama.ConsumerMessage)},
		mockClock:   mockClock,
		consumeDone: make(chan struct{}),
	}
	go func() {
		_ = handler.ConsumeClaim(session, env.claim)
		close(env.consumeDone)
	}()
	return env
}

func (env *testPipelineEnv) stop(t *testing.T) {
	if env.stopped {
		return
	}
	env.stopped = true
	close(env.claim.messageChan)
	<-env.consumeDone
	require.Nil(t, env.handler.Cleanup(env.session))
}

type testConsumerGroupSession struct {
	ctx    context.Context
	claims map[string][]int32

	mu      sync.Mutex
	marked  map[string]int64
	commits int
}

var _ sarama.ConsumerGroupSession = (*testConsumerGroupSession)(nil)

func newTestConsumerGroupSession(ctx context.Context, claims map[string][]int32) *testConsumerGroupSession {
	return &testConsumerGroupSession{
		ctx:    ctx,
		claims: claims,
		marked: make(map[string]int64),
	}
}

func (t *testConsumerGroupSession) Claims() map[string][]int32 {
	return t.claims
}

func (t *testConsumerGroupSession) MemberID() string {
	return "test-member"
}

func (t *testConsumerGroupSession) GenerationID() int32 {
	return 1
}

func (t *testConsumerGroupSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.marked[fmt.Sprintf("%s/%d", topic, partition)] = offset
}

func (t *testConsumerGroupSession) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commits++
}

func (t *testConsumerGroupSession) ResetOffset(string, int32, int64, string) {}

func (t *testConsumerGroupSession) MarkMessage(*sarama.ConsumerMessage, string) {}

func (t *testConsumerGroupSession) Context() context.Context {
	return t.ctx
}

func (t *testConsumerGroupSession) markedOffset(topic string, partition int32) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.marked[fmt.Sprintf("%s/%d", topic, partition)]
}

func (t *testConsumerGroupSession) commitCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commits
}

type testConsumerGroupClaim struct {
	partition   int32
	messageChan chan *sarama.ConsumerMessage
}

var _ sarama.ConsumerGroupClaim = (*testConsumerGroupClaim)(nil)

func (t *testConsumerGroupClaim) Topic() string {
	return spanInputTopic
}

func (t *testConsumerGroupClaim) Partition() int32 {
	return t.partition
}

func (t *testConsumerGroupClaim) InitialOffset() int64 {
	return 0
}

func (t *testConsumerGroupClaim) HighWaterMarkOffset() int64 {
	return 0
}

func (t *testConsumerGroupClaim) Messages() <-chan *sarama.ConsumerMessage {
	return t.messageChan
}

type captureEmitter struct {
	mu      sync.Mutex
	records [][]flushModel.SegmentRecord
}

func (ce *captureEmitter) Emit(ctx context.Context, records []flushModel.SegmentRecord) error {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	copied := make([]flushModel.SegmentRecord, len(records))
	copy(copied, records)
	ce.records = append(ce.records, copied)
	return nil
}

func (ce *captureEmitter) Close() error {
	return nil
}

func (ce *captureEmitter) emitted() [][]flushModel.SegmentRecord {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	snapshot := make([][]flushModel.SegmentRecord, len(ce.records))
	copy(snapshot, ce.records)
	return snapshot
}

func spanMessage(
	traceID string,
	spanID string,
	parentSpanID string,
	timestamp int64,
	offset int64,
) *sarama.ConsumerMessage {
	record := map[string]interface{}{
		"trace_id":        traceID,
		"span_id":         spanID,
		"project_id":      5,
		"organization_id": 9,
	}
	if parentSpanID != "" {
		record["parent_span_id"] = parentSpanID
	}
	payload, _ := json.Marshal(record)
	return &sarama.ConsumerMessage{
		Topic:     spanInputTopic,
		Partition: 0,
		Offset:    offset,
		Value:     payload,
		Timestamp: time.Unix(timestamp, 0),
	}
}
