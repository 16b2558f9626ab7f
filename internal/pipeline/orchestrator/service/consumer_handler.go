package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	bufferService "github.com/Avi18971911/Loom/internal/buffer/service"
	decodeService "github.com/Avi18971911/Loom/internal/pipeline/decode/service"
	flushService "github.com/Avi18971911/Loom/internal/pipeline/flush/service"
	ingestService "github.com/Avi18971911/Loom/internal/pipeline/ingest/service"
	"github.com/IBM/sarama"
	"github.com/tilinna/clock"
	"go.uber.org/zap"
)

const DefaultMessageBufferSize = 1024
const DefaultFlushInterval = 1 * time.Second
const DefaultBatchPollInterval = 100 * time.Millisecond
const DefaultDecodeBufferSize = 4

// PipelineSettings are the per-session knobs for the consumer pipeline. A
// DecodeWorkerCount of zero selects inline decode; any positive count runs a
// decode worker pool of that size.
type PipelineSettings struct {
	MaxBatchSize           int
	MaxBatchWait           time.Duration
	DecodeWorkerCount      int
	DecodeInputBufferSize  int
	DecodeOutputBufferSize int
	MessageBufferSize      int
	FlushInterval          time.Duration
	BatchPollInterval      time.Duration
	DefaultShard           int32
}

func (ps PipelineSettings) withDefaults() PipelineSettings {
	if ps.MessageBufferSize <= 0 {
		ps.MessageBufferSize = DefaultMessageBufferSize
	}
	if ps.FlushInterval <= 0 {
		ps.FlushInterval = DefaultFlushInterval
	}
	if ps.BatchPollInterval <= 0 {
		ps.BatchPollInterval = DefaultBatchPollInterval
	}
	if ps.DecodeInputBufferSize <= 0 {
		ps.DecodeInputBufferSize = DefaultDecodeBufferSize
	}
	if ps.DecodeOutputBufferSize <= 0 {
		ps.DecodeOutputBufferSize = DefaultDecodeBufferSize
	}
	return ps
}

// SpanConsumerGroupHandler owns one pipeline per consumer group session.
// Setup derives the shard set from the session's claims and starts the
// pipeline goroutine; ConsumeClaim goroutines only forward messages into the
// pipeline's bounded channel; Cleanup winds the pipeline down and surfaces
// its terminal error so the session rejoins from the last committed offset.
type SpanConsumerGroupHandler struct {
	buffer   bufferService.SpanBuffer
	flusher  *flushService.Flusher
	decoder  *decodeService.SpanDecoder
	settings PipelineSettings
	logger   *zap.Logger

	messages       chan *sarama.ConsumerMessage
	pipelineCtx    context.Context
	pipelineCancel context.CancelFunc
	pipelineDone   chan error
}

func NewSpanConsumerGroupHandler(
	buffer bufferService.SpanBuffer,
	flusher *flushService.Flusher,
	decoder *decodeService.SpanDecoder,
	settings PipelineSettings,
	logger *zap.Logger,
) *SpanConsumerGroupHandler {
	return &SpanConsumerGroupHandler{
		buffer:   buffer,
		flusher:  flusher,
		decoder:  decoder,
		settings: settings.withDefaults(),
		logger:   logger,
	}
}

func (h *SpanConsumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	// An empty claim set is legal when the group has more members than
	// partitions; the pipeline idles until the next rebalance.
	shards := shardsFromClaims(session.Claims())
	h.buffer.SetAssignedShards(shards)

	var decodePool *decodeService.DecodePool
	if h.settings.DecodeWorkerCount > 0 {
		decodePool = decodeService.NewDecodePool(
			h.decoder,
			h.settings.DefaultShard,
			h.settings.DecodeWorkerCount,
			h.settings.DecodeInputBufferSize,
			h.settings.DecodeOutputBufferSize,
		)
	}

	h.messages = make(chan *sarama.ConsumerMessage, h.settings.MessageBufferSize)
	h.pipelineCtx, h.pipelineCancel = context.WithCancel(session.Context())
	h.pipelineDone = make(chan error, 1)

	pipeline := NewPipeline(
		h.messages,
		ingestService.NewTimestampAssigner(),
		ingestService.NewBatcher(h.settings.MaxBatchSize, h.settings.MaxBatchWait),
		h.decoder,
		decodePool,
		h.settings.DefaultShard,
		h.buffer,
		h.flusher,
		session,
		h.logger,
	)
	sessionClock := clock.FromContext(session.Context())
	flushTicker := sessionClock.NewTicker(h.settings.FlushInterval)
	pollTicker := sessionClock.NewTicker(h.settings.BatchPollInterval)
	go func() {
		err := pipeline.Run(h.pipelineCtx, flushTicker, pollTicker)
		h.pipelineCancel()
		h.pipelineDone <- err
	}()

	h.logger.Info("Consumer session started",
		zap.Int32s("shards", shards),
		zap.Int("decodeWorkers", h.settings.DecodeWorkerCount),
	)
	return nil
}

func (h *SpanConsumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	close(h.messages)
	err := <-h.pipelineDone
	h.buffer.SetAssignedShards(nil)
	if err != nil {
		return fmt.Errorf("failed to wind down pipeline: %w", err)
	}
	h.logger.Info("Consumer session ended")
	return nil
}

// ConsumeClaim forwards the claim's messages to the pipeline goroutine. It
// returns when the claim closes on rebalance or when the pipeline stops,
// which ends the session and surfaces the pipeline's error through Cleanup.
func (h *SpanConsumerGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.messages <- message:
			case <-h.pipelineCtx.Done():
				return nil
			}
		case <-h.pipelineCtx.Done():
			return nil
		}
	}
}

// shardsFromClaims maps the session's claimed partitions to shard indices.
// Partition numbers are the shard space, so the union of claimed partitions
// across topics is exactly the shard set this instance owns.
func shardsFromClaims(claims map[string][]int32) []int32 {
	seen := make(map[int32]struct{})
	shards := make([]int32, 0)
	for _, partitions := range claims {
		for _, partition := range partitions {
			if _, ok := seen[partition]; ok {
				continue
			}
			seen[partition] = struct{}{}
			shards = append(shards, partition)
		}
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i] < shards[j] })
	return shards
}
