package handler

import (
	"encoding/json"
	"net/http"

	"github.com/Avi18971911/Loom/internal/stats"
	"go.uber.org/zap"
)

func HttpError(w http.ResponseWriter, message string, statusCode int, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	err := json.NewEncoder(w).Encode(ErrorMessage{Message: message})
	if err != nil {
		logger.Error("Error encountered when encoding error message", zap.Error(err))
	}
}

func mapFlushTotalsToDTO(totals stats.FlushTotals) FlushTotalsDTO {
	return FlushTotalsDTO{
		FlushCount:   totals.FlushCount,
		SegmentCount: totals.SegmentCount,
		SpanCount:    totals.SpanCount,
	}
}
