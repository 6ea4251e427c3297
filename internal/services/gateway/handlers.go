package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/engine"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/recorder"
)

// StateResponse is the dashboard view plus transport status.
type StateResponse struct {
	engine.View
	StreamLive bool `json:"streamLive"`
}

// GET /api/v1/state
func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, StateResponse{View: s.deps.Dashboard.View(), StreamLive: s.deps.StreamLive()})
}

// thresholdBody is the UPPER_CASE wire schema of the threshold config.
type thresholdBody map[string]entities.Range

func bodyOf(cfg entities.ThresholdConfig) thresholdBody {
	return thresholdBody{
		"SOIL_MOISTURE": cfg.SoilMoisture,
		"TEMPERATURE":   cfg.Temperature,
		"AIR_HUMIDITY":  cfg.AirHumidity,
	}
}

// GET /api/v1/thresholds
func (s *Server) handleGetThresholds(c *gin.Context) {
	c.JSON(http.StatusOK, bodyOf(s.deps.Dashboard.Thresholds()))
}

// PUT /api/v1/thresholds
// An invalid config still takes effect as the defaults; the 400 tells the
// caller which band was rejected.
func (s *Server) handlePutThresholds(c *gin.Context) {
	var body thresholdBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	err := s.deps.Dashboard.UpdateThresholdConfig(ctx, body)
	applied := bodyOf(s.deps.Dashboard.Thresholds())
	if errors.Is(err, engine.ErrInvalidThresholds) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "applied": applied})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

// POST /api/v1/snapshot/save
func (s *Server) handleSave(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	if !s.deps.Dashboard.ForceSave(ctx) {
		c.JSON(http.StatusConflict, gin.H{"saved": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

// DELETE /api/v1/snapshot
func (s *Server) handleClear(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	if !s.deps.Dashboard.ClearSavedData(ctx) {
		c.JSON(http.StatusInternalServerError, gin.H{"cleared": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// GET /api/v1/history?metric=soilMoisture&minutes=60&limit=100
func (s *Server) handleHistory(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history not configured"})
		return
	}
	metric := c.Query("metric")
	if metric == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metric is required"})
		return
	}
	minutes, err := intQuery(c, "minutes")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid minutes parameter"})
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	q := recorder.HistoryQuery{Metric: metric, Minutes: minutes, Limit: limit}.Normalize()
	points, err := s.deps.History.Query(ctx, q)
	if errors.Is(err, recorder.ErrUnknownMetric) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.log.Warn("history query failed", "metric", metric, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": points,
		"meta": gin.H{"metric": q.Metric, "minutes": q.Minutes, "count": len(points)},
	})
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
