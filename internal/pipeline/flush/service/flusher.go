package service

import (
	"context"
	"fmt"
	"time"

	bufferService "github.com/Avi18971911/Loom/internal/buffer/service"
	"github.com/Avi18971911/Loom/internal/event_bus"
	"github.com/Avi18971911/Loom/internal/metrics"
	"github.com/Avi18971911/Loom/internal/pipeline/flush/model"
	"github.com/asaskevich/EventBus"
	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// FlushSummaryTopic carries one FlushSummary per emitting shard flush.
const FlushSummaryTopic = "flush_summary_output"

const emissionBackoffInitialInterval = 250 * time.Millisecond
const DefaultEmissionMaxElapsedTime = 30 * time.Second

// Flusher drives segments out of the buffer engine. Each cycle claims every
// due segment per owned shard, emits the segment records downstream, and
// confirms removal only after the sink accepted them. Emission failures are
// retried with exponential backoff; once retries are exhausted the error is
// fatal for the cycle and the claimed segments stay in durable pending state
// until their lease expires and they are re-delivered.
type Flusher struct {
	buffer             bufferService.SpanBuffer
	emitter            SegmentEmitter
	summaryBus         event_bus.LoomEventBus[any, model.FlushSummary]
	emissionMaxElapsed time.Duration
	logger             *zap.Logger
}

func NewFlusher(
	buffer bufferService.SpanBuffer,
	emitter SegmentEmitter,
	eventBus EventBus.Bus,
	emissionMaxElapsed time.Duration,
	logger *zap.Logger,
) *Flusher {
	if emissionMaxElapsed <= 0 {
		emissionMaxElapsed = DefaultEmissionMaxElapsedTime
	}
	return &Flusher{
		buffer:             buffer,
		emitter:            emitter,
		summaryBus:         event_bus.NewLoomEventBus[any, model.FlushSummary](eventBus, logger),
		emissionMaxElapsed: emissionMaxElapsed,
		logger:             logger,
	}
}

// FlushCycle runs one claim-emit-confirm pass over every owned shard. The
// caller sequences it with buffer ingestion; the flusher itself never runs
// concurrently with an ingest for the same shard.
func (f *Flusher) FlushCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.FlushCycleDuration.Observe(time.Since(start).Seconds())
	}()
	for _, shard := range f.buffer.AssignedShards() {
		if err := f.flushShard(ctx, shard); err != nil {
			return fmt.Errorf("failed to flush shard %d: %w", shard, err)
		}
	}
	return nil
}

func (f *Flusher) flushShard(ctx context.Context, shard int32) error {
	segments, err := f.buffer.TakeFlushable(ctx, shard)
	if err != nil {
		return fmt.Errorf("failed to claim flushable segments: %w", err)
	}
	if len(segments) == 0 {
		return nil
	}

	records := make([]model.SegmentRecord, 0, len(segments))
	claimTokens := make([]string, 0, len(segments))
	spanCount := 0
	for _, segment := range segments {
		spans := make([]jsoniter.RawMessage, len(segment.Payloads))
		for i, payload := range segment.Payloads {
			spans[i] = payload
		}
		records = append(records, model.SegmentRecord{
			ProjectID: segment.ProjectID,
			TraceID:   segment.Key.TraceID,
			Spans:     spans,
		})
		claimTokens = append(claimTokens, segment.ClaimToken)
		spanCount += len(segment.Payloads)
	}

	if err := f.emitWithRetry(ctx, records); err != nil {
		return fmt.Errorf("failed to emit %d segments: %w", len(records), err)
	}
	if err := f.buffer.ConfirmFlushed(ctx, shard, claimTokens); err != nil {
		return fmt.Errorf("failed to confirm %d flushed segments: %w", len(claimTokens), err)
	}

	metrics.SegmentsFlushed.Add(float64(len(records)))
	metrics.SpansFlushed.Add(float64(spanCount))
	err = f.summaryBus.Publish(FlushSummaryTopic, model.FlushSummary{
		Shard:        shard,
		SegmentCount: len(records),
		SpanCount:    spanCount,
	})
	if err != nil {
		f.logger.Error("Failed to publish flush summary", zap.Error(err))
	}
	f.logger.Debug("Flushed segments",
		zap.Int32("shard", shard),
		zap.Int("segments", len(records)),
		zap.Int("spans", spanCount),
	)
	return nil
}

func (f *Flusher) emitWithRetry(ctx context.Context, records []model.SegmentRecord) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = emissionBackoffInitialInterval
	expBackoff.MaxElapsedTime = f.emissionMaxElapsed

	operation := func() error {
		err := f.emitter.Emit(ctx, records)
		if err != nil {
			metrics.EmissionRetries.Inc()
			f.logger.Warn("Segment emission failed, retrying", zap.Error(err))
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(expBackoff, ctx))
}
