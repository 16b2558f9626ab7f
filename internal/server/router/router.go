package router

import (
	"net/http"

	bufferService "github.com/Avi18971911/Loom/internal/buffer/service"
	"github.com/Avi18971911/Loom/internal/server/handler"
	"github.com/Avi18971911/Loom/internal/stats"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func CreateRouter(
	buffer bufferService.SpanBuffer,
	statsCollector *stats.FlushStatsCollector,
	logger *zap.Logger,
) http.Handler {
	r := mux.NewRouter()

	r.Handle(
		"/health", handler.HealthHandler(
			buffer,
			statsCollector,
			logger,
		),
	).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}
