package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Avi18971911/Loom/internal/buffer/model"
	"github.com/Avi18971911/Loom/internal/db/redis/client"
	"go.uber.org/zap"
)

const DefaultLeaseTimeout = 2 * time.Minute
const DefaultMaxSegmentsPerClaim = 512

// RedisSpanBuffer is the durable SpanBuffer backend. Segment state lives in
// Redis and survives process restarts and shard reassignment, so a trace
// that stops receiving spans is still flushed once other traffic on its
// shard advances the watermark past the threshold.
type RedisSpanBuffer struct {
	client       client.RedisClient
	scripts      *ScriptManager
	logger       *zap.Logger
	leaseTimeout time.Duration
	maxClaim     int
	mu           sync.RWMutex
	assigned     map[int32]shardKeys
}

func NewRedisSpanBuffer(
	redisClient client.RedisClient,
	scripts *ScriptManager,
	leaseTimeout time.Duration,
	logger *zap.Logger,
) *RedisSpanBuffer {
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	return &RedisSpanBuffer{
		client:       redisClient,
		scripts:      scripts,
		logger:       logger,
		leaseTimeout: leaseTimeout,
		maxClaim:     DefaultMaxSegmentsPerClaim,
		assigned:     make(map[int32]shardKeys),
	}
}

func (sb *RedisSpanBuffer) Ingest(
	ctx context.Context,
	shard int32,
	spans []model.Span,
	now int64,
) error {
	keys, err := sb.keysFor(shard)
	if err != nil {
		return err
	}
	for _, span := range spans {
		_, err := sb.scripts.AppendSpan(ctx, keys, span.TraceID, span.SpanID, span.Payload, now, span.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to ingest span for trace %s: %w", span.TraceID, err)
		}
	}
	// the watermark moves last so a crash mid-batch leaves it conservative
	if _, err := sb.scripts.AdvanceWatermark(ctx, keys, now); err != nil {
		return fmt.Errorf("failed to advance watermark for shard %d: %w", shard, err)
	}
	return nil
}

func (sb *RedisSpanBuffer) TakeFlushable(
	ctx context.Context,
	shard int32,
) ([]model.FlushableSegment, error) {
	keys, err := sb.keysFor(shard)
	if err != nil {
		return nil, err
	}
	claimed, err := sb.scripts.ClaimFlushable(
		ctx,
		keys,
		FlushThresholdSeconds,
		time.Now().Unix(),
		int64(sb.leaseTimeout/time.Second),
		sb.maxClaim,
	)
	if err != nil {
		return nil, err
	}

	segments := make([]model.FlushableSegment, 0, len(claimed))
	for _, c := range claimed {
		projectID, err := parseInt64(c.ProjectID, "project_id")
		if err != nil {
			return nil, err
		}
		createdAt, err := parseScore(c.CreatedAt, "created_at")
		if err != nil {
			return nil, err
		}
		lastUpdate, err := parseScore(c.LastUpdate, "last_update")
		if err != nil {
			return nil, err
		}
		payloads := make([][]byte, len(c.Payloads))
		for i, payload := range c.Payloads {
			payloads[i] = []byte(payload)
		}
		segments = append(segments, model.FlushableSegment{
			Key:        model.SegmentKey{Shard: shard, TraceID: c.TraceID},
			ProjectID:  projectID,
			CreatedAt:  createdAt,
			LastUpdate: lastUpdate,
			ClaimToken: c.Token,
			Payloads:   payloads,
		})
	}
	return segments, nil
}

func (sb *RedisSpanBuffer) ConfirmFlushed(
	ctx context.Context,
	shard int32,
	claimTokens []string,
) error {
	if len(claimTokens) == 0 {
		return nil
	}
	keys, err := sb.keysFor(shard)
	if err != nil {
		return err
	}
	return sb.scripts.ConfirmFlushed(ctx, keys, claimTokens)
}

func (sb *RedisSpanBuffer) Backlog(ctx context.Context, shard int32) (int64, error) {
	keys, err := sb.keysFor(shard)
	if err != nil {
		return 0, err
	}
	return sb.client.ZCard(ctx, keys.active)
}

func (sb *RedisSpanBuffer) SetAssignedShards(shards []int32) {
	assigned := make(map[int32]shardKeys, len(shards))
	for _, shard := range shards {
		assigned[shard] = newShardKeys(shard)
	}
	sb.mu.Lock()
	sb.assigned = assigned
	sb.mu.Unlock()
	sb.logger.Info("Assigned shards updated", zap.Int32s("shards", shards))
}

func (sb *RedisSpanBuffer) AssignedShards() []int32 {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	shards := make([]int32, 0, len(sb.assigned))
	for shard := range sb.assigned {
		shards = append(shards, shard)
	}
	return shards
}

func (sb *RedisSpanBuffer) keysFor(shard int32) (shardKeys, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	keys, ok := sb.assigned[shard]
	if !ok {
		return shardKeys{}, ErrShardNotAssigned
	}
	return keys, nil
}

func parseInt64(value string, field string) (int64, error) {
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s value %q: %w", field, value, err)
	}
	return parsed, nil
}

// parseScore parses numbers that may come back from Redis in float notation,
// such as sorted-set scores.
func parseScore(value string, field string) (int64, error) {
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s value %q: %w", field, value, err)
	}
	return int64(parsed), nil
}
