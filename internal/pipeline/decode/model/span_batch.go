package model

import (
	bufferModel "github.com/Avi18971911/Loom/internal/buffer/model"
)

// SpanBatch is the ingest unit a decoded message batch turns into: the
// resolved shard, the admitted spans in message order, and the batch's
// minimum logical timestamp. The minimum is deliberate — the watermark must
// advance conservatively and never skip past a message still in flight
// within the batch. HighOffsets carries the progress marks to apply once the
// spans are durably ingested.
type SpanBatch struct {
	Shard        int32
	Spans        []bufferModel.Span
	MinTimestamp int64
	Topic        string
	HighOffsets  map[int32]int64
}
