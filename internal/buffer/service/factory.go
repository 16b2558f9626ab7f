package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Avi18971911/Loom/internal/db/redis/client"
	"go.uber.org/zap"
)

type Backend string

const (
	// BackendRedis is the durable production backend.
	BackendRedis Backend = "redis"
	// BackendMemory keeps state in process memory; tests and dev runs only.
	BackendMemory Backend = "memory"
)

// NewSpanBuffer creates the buffer engine for the requested backend. The
// Redis backend loads its Lua scripts as part of construction; redisClient
// may be nil for the memory backend.
func NewSpanBuffer(
	ctx context.Context,
	backend Backend,
	redisClient client.RedisClient,
	leaseTimeout time.Duration,
	logger *zap.Logger,
) (SpanBuffer, error) {
	switch backend {
	case BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis backend requires a redis client")
		}
		scripts := NewScriptManager(redisClient, logger)
		if err := scripts.LoadScripts(ctx); err != nil {
			return nil, fmt.Errorf("failed to load buffer scripts: %w", err)
		}
		return NewRedisSpanBuffer(redisClient, scripts, leaseTimeout, logger), nil
	case BackendMemory:
		return NewMemorySpanBuffer(leaseTimeout, logger), nil
	default:
		return nil, fmt.Errorf("unsupported buffer backend: %s", backend)
	}
}
