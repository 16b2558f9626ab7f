package service

import (
	decodeModel "github.com/Avi18971911/Loom/internal/pipeline/decode/model"
	ingestModel "github.com/Avi18971911/Loom/internal/pipeline/ingest/model"
)

// DecodeOutcome carries one decoded batch or the batch-level error that
// aborted it.
type DecodeOutcome struct {
	SpanBatch *decodeModel.SpanBatch
	Err       error
}

// DecodePool decodes message batches across a fixed worker set. Results come
// back in submission order, so applying them from the pipeline goroutine is
// indistinguishable from inline decode.
type DecodePool = OrderedWorkerPool[*ingestModel.MessageBatch, DecodeOutcome]

func NewDecodePool(
	decoder *SpanDecoder,
	defaultShard int32,
	workerCount int,
	inputBufferSize int,
	outputBufferSize int,
) *DecodePool {
	return NewOrderedWorkerPool(
		workerCount,
		inputBufferSize,
		outputBufferSize,
		func(batch *ingestModel.MessageBatch) DecodeOutcome {
			spanBatch, err := decoder.DecodeBatch(batch, defaultShard)
			return DecodeOutcome{SpanBatch: spanBatch, Err: err}
		},
	)
}
