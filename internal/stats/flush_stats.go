package stats

import (
	"fmt"
	"sync"

	"github.com/Avi18971911/Loom/internal/event_bus"
	flushModel "github.com/Avi18971911/Loom/internal/pipeline/flush/model"
	flushService "github.com/Avi18971911/Loom/internal/pipeline/flush/service"
	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

// FlushTotals aggregates every flush summary seen since startup.
type FlushTotals struct {
	FlushCount   int64 `json:"flush_count"`
	SegmentCount int64 `json:"segment_count"`
	SpanCount    int64 `json:"span_count"`
}

// FlushStatsCollector subscribes to flush summaries off the hot path and
// keeps running totals for the operational surface.
type FlushStatsCollector struct {
	summaryBus event_bus.LoomEventBus[flushModel.FlushSummary, any]
	logger     *zap.Logger

	mu     sync.Mutex
	totals FlushTotals
}

func NewFlushStatsCollector(
	eventBus EventBus.Bus,
	logger *zap.Logger,
) *FlushStatsCollector {
	return &FlushStatsCollector{
		summaryBus: event_bus.NewLoomEventBus[flushModel.FlushSummary, any](eventBus, logger),
		logger:     logger,
	}
}

// Start subscribes the collector to flush summaries. Call it once before the
// pipeline begins flushing.
func (fc *FlushStatsCollector) Start() error {
	err := fc.summaryBus.Subscribe(
		flushService.FlushSummaryTopic,
		func(summary flushModel.FlushSummary) error {
			fc.mu.Lock()
			fc.totals.FlushCount++
			fc.totals.SegmentCount += int64(summary.SegmentCount)
			fc.totals.SpanCount += int64(summary.SpanCount)
			fc.mu.Unlock()
			return nil
		},
		true,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to flush summaries: %w", err)
	}
	return nil
}

func (fc *FlushStatsCollector) Snapshot() FlushTotals {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.totals
}
