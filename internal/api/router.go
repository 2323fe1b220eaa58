package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"recsignal/internal/config"
	"recsignal/internal/logging"
	"recsignal/internal/services"
)

func NewRouter(svc *services.Service, logger *logging.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	h := NewHandler(svc, logger)
	api := r.Group(cfg.API.BasePath)
	{
		// Ingestion
		api.POST("/metrics/ingest", h.IngestMetrics)
		api.GET("/metrics", h.ListReadings)

		// Servers
		api.GET("/servers", h.ListServers)
		api.GET("/servers/:id", h.GetServer)

		// Alerts
		api.GET("/alerts", h.ListAlerts)
		api.GET("/alerts/summary", h.AlertSummary)
		api.GET("/alerts/stream", h.StreamAlerts)
		api.GET("/alerts/:id", h.GetAlert)
		api.POST("/alerts/acknowledge", h.AcknowledgeAlert)
		api.POST("/alerts/:id/resolve", h.ResolveAlert)

		// Thresholds
		api.GET("/thresholds", h.ListThresholds)
		api.GET("/thresholds/:id", h.GetThreshold)
		api.POST("/thresholds", h.UpsertThreshold)
		api.DELETE("/thresholds/:id", h.DeleteThreshold)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
