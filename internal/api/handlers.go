package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"recsignal/internal/alerting"
	"recsignal/internal/logging"
	"recsignal/internal/models"
	"recsignal/internal/services"
	"recsignal/internal/store"
)

type Handler struct {
	svc    *services.Service
	logger *logging.Logger
}

func NewHandler(svc *services.Service, logger *logging.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// respondError maps engine errors onto HTTP statuses. Anything unknown is
// a store failure and its detail stays in the log.
func (h *Handler) respondError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, alerting.ErrMissingAcknowledger):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidThreshold):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Errorf("Failed to %s: %v", action, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action})
	}
}

func (h *Handler) IngestMetrics(c *gin.Context) {
	var payload models.MetricPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Errorf("Invalid request body for metrics ingest: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	sub, err := services.SubmissionFromPayload(payload)
	if err != nil {
		h.respondError(c, err, "ingest metrics")
		return
	}

	ctx := services.WithSource(c.Request.Context(), "http")
	res, err := h.svc.SubmitBatch(ctx, sub)
	if err != nil {
		h.respondError(c, err, "ingest metrics")
		return
	}

	h.logger.Infof("Ingested %d metrics for %s, %d alerts generated", res.StoredCount, sub.Hostname, res.AlertsCreated)
	c.JSON(http.StatusCreated, models.IngestResponse{
		ServerID:        res.ServerID,
		MetricsStored:   res.StoredCount,
		AlertsGenerated: res.AlertsCreated,
	})
}

// queryInt parses an optional integer query parameter.
func queryInt(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return v, true
}

func (h *Handler) ListReadings(c *gin.Context) {
	var q services.ReadingQuery
	serverID, ok := queryInt(c, "server_id")
	if !ok {
		return
	}
	hours, ok := queryInt(c, "hours")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	q.ServerID, q.Hours, q.Limit = serverID, int(hours), int(limit)
	if raw := c.Query("metric_type"); raw != "" {
		mt, err := models.ParseMetricType(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		q.MetricType = mt
	}

	readings, err := h.svc.ListReadings(c.Request.Context(), q)
	if err != nil {
		h.respondError(c, err, "get metrics")
		return
	}
	c.JSON(http.StatusOK, readings)
}

func (h *Handler) ListServers(c *gin.Context) {
	servers, err := h.svc.ListServers(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "get servers")
		return
	}
	c.JSON(http.StatusOK, servers)
}

func (h *Handler) GetServer(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid server id"})
		return
	}
	srv, err := h.svc.GetServer(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "get server")
		return
	}
	c.JSON(http.StatusOK, srv)
}

func (h *Handler) ListAlerts(c *gin.Context) {
	var f models.AlertFilter
	if raw := c.Query("status"); raw != "" {
		st, err := models.ParseAlertStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Status = st
	}
	if raw := c.Query("severity"); raw != "" {
		sev, err := models.ParseSeverity(raw)
		if err != nil || !sev.Breach() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid severity"})
			return
		}
		f.Severity = sev
	}
	if raw := c.Query("environment"); raw != "" {
		env, err := models.ParseEnvironment(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Environment = env
	}
	serverID, ok := queryInt(c, "server_id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	if c.Query("limit") != "" && (limit < 1 || limit > services.MaxAlertLimit) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return
	}
	f.ServerID, f.Limit = serverID, int(limit)

	alerts, err := h.svc.ListAlerts(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err, "get alerts")
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *Handler) AlertSummary(c *gin.Context) {
	summary, err := h.svc.AlertSummary(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "get alert summary")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func parseAlertID(c *gin.Context, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) GetAlert(c *gin.Context) {
	id, ok := parseAlertID(c, c.Param("id"))
	if !ok {
		return
	}
	alert, err := h.svc.GetAlert(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "get alert")
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	var req models.AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for acknowledge: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	id, ok := parseAlertID(c, req.AlertID)
	if !ok {
		return
	}
	alert, err := h.svc.Acknowledge(c.Request.Context(), id, req.AcknowledgedBy)
	if err != nil {
		h.respondError(c, err, "acknowledge alert")
		return
	}
	h.logger.Infof("Alert %s acknowledged by %s", id, req.AcknowledgedBy)
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) ResolveAlert(c *gin.Context) {
	id, ok := parseAlertID(c, c.Param("id"))
	if !ok {
		return
	}
	alert, err := h.svc.Resolve(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "resolve alert")
		return
	}
	h.logger.Infof("Alert %s resolved", id)
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) ListThresholds(c *gin.Context) {
	thresholds, err := h.svc.ListThresholds(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "get thresholds")
		return
	}
	c.JSON(http.StatusOK, thresholds)
}

func parseThresholdID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid threshold id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) GetThreshold(c *gin.Context) {
	id, ok := parseThresholdID(c)
	if !ok {
		return
	}
	t, err := h.svc.GetThreshold(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "get threshold")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) UpsertThreshold(c *gin.Context) {
	var in models.ThresholdInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.logger.Errorf("Invalid request body for threshold: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	t, err := in.Threshold()
	if errors.Is(err, models.ErrInvalidThreshold) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.svc.UpsertThreshold(c.Request.Context(), t)
	if err != nil {
		h.respondError(c, err, "save threshold")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) DeleteThreshold(c *gin.Context) {
	id, ok := parseThresholdID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteThreshold(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "delete threshold")
		return
	}
	c.Status(http.StatusNoContent)
}
