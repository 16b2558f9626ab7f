package service

import (
	"context"
	"fmt"

	bufferService "github.com/Avi18971911/Loom/internal/buffer/service"
	decodeService "github.com/Avi18971911/Loom/internal/pipeline/decode/service"
	flushService "github.com/Avi18971911/Loom/internal/pipeline/flush/service"
	ingestModel "github.com/Avi18971911/Loom/internal/pipeline/ingest/model"
	ingestService "github.com/Avi18971911/Loom/internal/pipeline/ingest/service"
	"github.com/IBM/sarama"
	"github.com/tilinna/clock"
	"go.uber.org/zap"
)

// OffsetMarker is the slice of sarama.ConsumerGroupSession the pipeline
// needs to record progress. Offsets for a batch are marked only after its
// spans are durably buffered, so a crash replays messages instead of
// skipping them.
type OffsetMarker interface {
	MarkOffset(topic string, partition int32, offset int64, metadata string)
	Commit()
}

// Pipeline is the single writer for every shard its session owns. One
// goroutine runs it: batch submission and result application interleave in
// submission order, so buffer state advances exactly as if decoding were
// inline even when a worker pool decodes in parallel. A nil decode pool
// selects inline decode.
type Pipeline struct {
	messages     <-chan *sarama.ConsumerMessage
	assigner     *ingestService.TimestampAssigner
	batcher      *ingestService.Batcher
	decoder      *decodeService.SpanDecoder
	decodePool   *decodeService.DecodePool
	defaultShard int32
	buffer       bufferService.SpanBuffer
	flusher      *flushService.Flusher
	marker       OffsetMarker
	logger       *zap.Logger
}

func NewPipeline(
	messages <-chan *sarama.ConsumerMessage,
	assigner *ingestService.TimestampAssigner,
	batcher *ingestService.Batcher,
	decoder *decodeService.SpanDecoder,
	decodePool *decodeService.DecodePool,
	defaultShard int32,
	buffer bufferService.SpanBuffer,
	flusher *flushService.Flusher,
	marker OffsetMarker,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		messages:     messages,
		assigner:     assigner,
		batcher:      batcher,
		decoder:      decoder,
		decodePool:   decodePool,
		defaultShard: defaultShard,
		buffer:       buffer,
		flusher:      flusher,
		marker:       marker,
		logger:       logger,
	}
}

// Run drives the pipeline until ctx is canceled or the message channel
// closes, then drains in-flight work and commits final progress. pollTicker
// bounds how long a partial batch can sit in the batcher; flushTicker paces
// flush cycles. A decode or buffer failure is fatal for the session: the
// error propagates to the consumer group, which rejoins and replays from the
// last committed offset.
func (p *Pipeline) Run(
	ctx context.Context,
	flushTicker *clock.Ticker,
	pollTicker *clock.Ticker,
) error {
	defer flushTicker.Stop()
	defer pollTicker.Stop()

	var results <-chan decodeService.DecodeOutcome
	if p.decodePool != nil {
		results = p.decodePool.Results()
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			return p.shutdown(ctx)
		case message, ok := <-p.messages:
			if !ok {
				return p.shutdown(ctx)
			}
			if batch := p.batcher.Add(p.assigner.Assign(message)); batch != nil {
				err = p.submit(ctx, batch)
			}
		case now := <-pollTicker.C:
			if batch := p.batcher.TakeIfExpired(now); batch != nil {
				err = p.submit(ctx, batch)
			}
		case outcome := <-results:
			err = p.apply(ctx, outcome)
		case <-flushTicker.C:
			p.flush(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return p.shutdown(ctx)
			}
			return err
		}
	}
}

// submit hands a batch to the decode pool, draining decode results while the
// pool is saturated so submission can never deadlock against application. In
// inline mode the batch is decoded and applied on the spot.
func (p *Pipeline) submit(ctx context.Context, batch *ingestModel.MessageBatch) error {
	if p.decodePool == nil {
		spanBatch, err := p.decoder.DecodeBatch(batch, p.defaultShard)
		return p.apply(ctx, decodeService.DecodeOutcome{SpanBatch: spanBatch, Err: err})
	}
	for {
		select {
		case p.decodePool.Tasks() <- batch:
			return nil
		case outcome := <-p.decodePool.Results():
			if err := p.apply(ctx, outcome); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// apply ingests one decoded batch and records its progress. Marked offsets
// point one past the highest applied offset per partition.
func (p *Pipeline) apply(ctx context.Context, outcome decodeService.DecodeOutcome) error {
	if outcome.Err != nil {
		return fmt.Errorf("failed to decode span batch: %w", outcome.Err)
	}
	spanBatch := outcome.SpanBatch
	err := p.buffer.Ingest(ctx, spanBatch.Shard, spanBatch.Spans, spanBatch.MinTimestamp)
	if err != nil {
		return fmt.Errorf("failed to buffer span batch: %w", err)
	}
	for partition, offset := range spanBatch.HighOffsets {
		p.marker.MarkOffset(spanBatch.Topic, partition, offset+1, "")
	}
	p.marker.Commit()
	return nil
}

// flush runs one claim-emit-confirm cycle. Failure is not fatal: claimed
// segments stay pending until their lease expires and a later cycle takes
// them again.
func (p *Pipeline) flush(ctx context.Context) {
	if err := p.flusher.FlushCycle(ctx); err != nil {
		p.logger.Error("Failed to complete flush cycle", zap.Error(err))
		return
	}
	p.marker.Commit()
}

// shutdown submits whatever the batcher holds, closes the decode pool, and
// applies the remaining results so every decoded batch is buffered and its
// offsets committed before the session surrenders its claims. Sarama keeps
// the claims assigned until Cleanup returns, so single-writer access holds
// through the drain. After an apply failure the remaining results are
// discarded unapplied; marking offsets past a failed batch would let its
// spans vanish on restart.
func (p *Pipeline) shutdown(ctx context.Context) error {
	drainCtx := context.WithoutCancel(ctx)
	var drainErr error
	if batch := p.batcher.Flush(); batch != nil {
		drainErr = p.submit(drainCtx, batch)
	}
	if p.decodePool != nil {
		p.decodePool.Close()
		for outcome := range p.decodePool.Results() {
			if drainErr != nil {
				continue
			}
			drainErr = p.apply(drainCtx, outcome)
		}
	}
	p.marker.Commit()
	if drainErr != nil {
		return fmt.Errorf("failed to drain pipeline during shutdown: %w", drainErr)
	}
	return nil
}
