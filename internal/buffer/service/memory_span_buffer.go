package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Avi18971911/Loom/internal/buffer/model"
	"go.uber.org/zap"
)

type memorySegment struct {
	traceID    string
	projectID  int64
	createdAt  int64
	lastUpdate int64
	seen       map[string]struct{}
	payloads   [][]byte
}

type memoryClaim struct {
	claimedAt int64
	segment   model.FlushableSegment
}

// MemorySpanBuffer keeps segment state in process memory. It mirrors the
// semantics of RedisSpanBuffer and exists for unit tests and single-process
// dev runs; it does not survive restarts and must not back a production
// consumer.
type MemorySpanBuffer struct {
	logger       *zap.Logger
	leaseTimeout time.Duration
	maxClaim     int
	nowFn        func() time.Time

	mu         sync.Mutex
	segments   map[int32]map[string]*memorySegment
	watermarks map[int32]int64
	pending    map[int32]map[string]*memoryClaim
	claimSeq   int64
	assigned   map[int32]struct{}
}

func NewMemorySpanBuffer(
	leaseTimeout time.Duration,
	logger *zap.Logger,
) *MemorySpanBuffer {
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	return &MemorySpanBuffer{
		logger:       logger,
		leaseTimeout: leaseTimeout,
		maxClaim:     DefaultMaxSegmentsPerClaim,
		nowFn:        time.Now,
		segments:     make(map[int32]map[string]*memorySegment),
		watermarks:   make(map[int32]int64),
		pending:      make(map[int32]map[string]*memoryClaim),
		assigned:     make(map[int32]struct{}),
	}
}

func (sb *MemorySpanBuffer) Ingest(
	ctx context.Context,
	shard int32,
	spans []model.Span,
	now int64,
) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if _, ok := sb.assigned[shard]; !ok {
		return ErrShardNotAssigned
	}

	traces, ok := sb.segments[shard]
	if !ok {
		traces = make(map[string]*memorySegment)
		sb.segments[shard] = traces
	}
	for _, span := range spans {
		segment, ok := traces[span.TraceID]
		if !ok {
			segment = &memorySegment{
				traceID:    span.TraceID,
				projectID:  span.ProjectID,
				createdAt:  now,
				lastUpdate: now,
				seen:       make(map[string]struct{}),
			}
			traces[span.TraceID] = segment
		}
		if _, duplicate := segment.seen[span.SpanID]; !duplicate {
			segment.seen[span.SpanID] = struct{}{}
			payload := make([]byte, len(span.Payload))
			copy(payload, span.Payload)
			segment.payloads = append(segment.payloads, payload)
		}
		if now > segment.lastUpdate {
			segment.lastUpdate = now
		}
	}

	watermark, ok := sb.watermarks[shard]
	if !ok || now > watermark {
		sb.watermarks[shard] = now
	}
	return nil
}

func (sb *MemorySpanBuffer) TakeFlushable(
	ctx context.Context,
	shard int32,
) ([]model.FlushableSegment, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if _, ok := sb.assigned[shard]; !ok {
		return nil, ErrShardNotAssigned
	}

	nowWall := sb.nowFn().Unix()
	var flushable []model.FlushableSegment

	if watermark, ok := sb.watermarks[shard]; ok {
		cutoff := watermark - FlushThresholdSeconds
		due := make([]*memorySegment, 0)
		for _, segment := range sb.segments[shard] {
			if segment.lastUpdate <= cutoff {
				due = append(due, segment)
			}
		}
		// score order, the same way the sorted-set index returns them
		sort.Slice(due, func(i, j int) bool {
			if due[i].lastUpdate != due[j].lastUpdate {
				return due[i].lastUpdate < due[j].lastUpdate
			}
			return due[i].traceID < due[j].traceID
		})
		if len(due) > sb.maxClaim {
			due = due[:sb.maxClaim]
		}
		claims, ok := sb.pending[shard]
		if !ok {
			claims = make(map[string]*memoryClaim)
			sb.pending[shard] = claims
		}
		for _, segment := range due {
			delete(sb.segments[shard], segment.traceID)
			sb.claimSeq++
			token := fmt.Sprintf("%s@%d", segment.traceID, sb.claimSeq)
			claimed := model.FlushableSegment{
				Key:        model.SegmentKey{Shard: shard, TraceID: segment.traceID},
				ProjectID:  segment.projectID,
				CreatedAt:  segment.createdAt,
				LastUpdate: segment.lastUpdate,
				ClaimToken: token,
				Payloads:   segment.payloads,
			}
			claims[token] = &memoryClaim{claimedAt: nowWall, segment: claimed}
			flushable = append(flushable, claimed)
		}
	}

	// re-deliver claims whose lease ran out before confirmation
	staleTokens := make([]string, 0)
	for token, claim := range sb.pending[shard] {
		if claim.claimedAt <= nowWall-int64(sb.leaseTimeout/time.Second) {
			staleTokens = append(staleTokens, token)
		}
	}
	sort.Strings(staleTokens)
	for _, token := range staleTokens {
		claim := sb.pending[shard][token]
		claim.claimedAt = nowWall
		flushable = append(flushable, claim.segment)
	}
	return flushable, nil
}

func (sb *MemorySpanBuffer) ConfirmFlushed(
	ctx context.Context,
	shard int32,
	claimTokens []string,
) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if _, ok := sb.assigned[shard]; !ok {
		return ErrShardNotAssigned
	}
	for _, token := range claimTokens {
		delete(sb.pending[shard], token)
	}
	return nil
}

func (sb *MemorySpanBuffer) Backlog(ctx context.Context, shard int32) (int64, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if _, ok := sb.assigned[shard]; !ok {
		return 0, ErrShardNotAssigned
	}
	return int64(len(sb.segments[shard])), nil
}

func (sb *MemorySpanBuffer) SetAssignedShards(shards []int32) {
	assigned := make(map[int32]struct{}, len(shards))
	for _, shard := range shards {
		assigned[shard] = struct{}{}
	}
	sb.mu.Lock()
	sb.assigned = assigned
	sb.mu.Unlock()
	sb.logger.Info("Assigned shards updated", zap.Int32s("shards", shards))
}

func (sb *MemorySpanBuffer) AssignedShards() []int32 {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	shards := make([]int32, 0, len(sb.assigned))
	for shard := range sb.assigned {
		shards = append(shards, shard)
	}
	return shards
}
