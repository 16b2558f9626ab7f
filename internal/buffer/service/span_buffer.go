package service

import (
	"context"
	"errors"

	"github.com/Avi18971911/Loom/internal/buffer/model"
)

// FlushThresholdSeconds is the idle duration of logical time after which a
// segment becomes eligible for emission. Idleness is judged against the
// shard watermark, never against wall-clock time, so consumer backlog does
// not make segments look idle.
const FlushThresholdSeconds = 120

var ErrShardNotAssigned = errors.New("shard is not assigned to this instance")

// SpanBuffer groups spans into per-shard segments keyed by trace and tracks
// their idleness. It is the only component holding state across batches; a
// single pipeline goroutine sequences Ingest and TakeFlushable for each
// assigned shard.
type SpanBuffer interface {
	// Ingest appends each span to the segment for (shard, trace) and bumps the
	// segment's last update to the larger of its current value and now. The
	// segment is created on first sight, recording its project and creation
	// time. Appends are idempotent on span id. The shard watermark advances to
	// max(watermark, now) even when spans is empty.
	Ingest(ctx context.Context, shard int32, spans []model.Span, now int64) error
	// TakeFlushable atomically claims every segment of the shard whose idle
	// time against the tracked watermark has reached the flush threshold,
	// removes them from live state, and returns them with payloads in
	// insertion order. Claimed segments survive durably until ConfirmFlushed;
	// claims whose lease expired are returned again. A segment is never
	// returned twice within one lease, and a span arriving for a claimed
	// trace opens a fresh segment.
	TakeFlushable(ctx context.Context, shard int32) ([]model.FlushableSegment, error)
	// ConfirmFlushed permanently removes claimed segments once their
	// downstream emission has been accepted.
	ConfirmFlushed(ctx context.Context, shard int32, claimTokens []string) error
	// Backlog returns the number of open segments currently buffered for the
	// shard.
	Backlog(ctx context.Context, shard int32) (int64, error)
	SetAssignedShards(shards []int32)
	AssignedShards() []int32
}
