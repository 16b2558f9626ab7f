package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	bufferService "github.com/Avi18971911/Loom/internal/buffer/service"
	"github.com/Avi18971911/Loom/internal/stats"
	"go.uber.org/zap"
)

// HealthHandler creates a handler reporting liveness, the buffered segment
// backlog per owned shard, and aggregated flush totals.
func HealthHandler(
	buffer bufferService.SpanBuffer,
	statsCollector *stats.FlushStatsCollector,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shards := buffer.AssignedShards()
		sort.Slice(shards, func(i, j int) bool { return shards[i] < shards[j] })

		backlogs := make([]ShardBacklogDTO, 0, len(shards))
		for _, shard := range shards {
			backlog, err := buffer.Backlog(r.Context(), shard)
			if err != nil {
				// a rebalance can revoke the shard between listing and query
				if errors.Is(err, bufferService.ErrShardNotAssigned) {
					continue
				}
				logger.Error("Error encountered when reading shard backlog", zap.Error(err))
				HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
				return
			}
			backlogs = append(backlogs, ShardBacklogDTO{Shard: shard, Backlog: backlog})
		}

		res := HealthResponseDTO{
			Status: "ok",
			Shards: backlogs,
			Flush:  mapFlushTotalsToDTO(statsCollector.Snapshot()),
		}
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(res)
		if err != nil {
			logger.Error("Error encountered when encoding response", zap.Error(err))
			HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
			return
		}
	}
}
