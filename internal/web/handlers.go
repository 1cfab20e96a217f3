package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/numia-vision/edge-counter/internal/camera"
	"github.com/numia-vision/edge-counter/internal/config"
	"github.com/numia-vision/edge-counter/internal/session"
)

// handleHealth handles the aggregated health endpoint
func (s *Server) handleHealth(c *gin.Context) {
	if s.healthMgr == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "web-server",
			"version": s.version,
		})
		return
	}

	report := s.healthMgr.Check(c.Request.Context())

	statusCode := http.StatusOK
	if report.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, report)
}

// handleCurrentStats handles the live statistics endpoint
func (s *Server) handleCurrentStats(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session engine not available"})
		return
	}

	snapshot := s.engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"snapshot":  snapshot,
		"clients":   s.hub.ClientCount(),
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleTodayStats returns the aggregate over today's stored samples
func (s *Server) handleTodayStats(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session store not available"})
		return
	}

	c.JSON(http.StatusOK, s.store.TodayStats(time.Now()))
}

// handleWeeklyHeatmap returns weekday-by-hour averages over the last 7 days
func (s *Server) handleWeeklyHeatmap(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session store not available"})
		return
	}

	heatmap := s.store.WeeklyHeatmap(time.Now())
	c.JSON(http.StatusOK, gin.H{
		"heatmap": heatmap,
		"count":   len(heatmap),
	})
}

// handleStartSession handles starting a counting session
func (s *Server) handleStartSession(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session engine not available"})
		return
	}

	var req struct {
		DeviceID string `json:"deviceId"`
	}
	// body is optional, an empty one selects the default device
	_ = c.ShouldBindJSON(&req)

	if err := s.engine.StartSession(req.DeviceID); err != nil {
		if errors.Is(err, camera.ErrDeviceUnavailable) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, s.engine.Snapshot())
}

// handleStopSession handles stopping the active session
func (s *Server) handleStopSession(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session engine not available"})
		return
	}

	summary, err := s.engine.StopSession()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if summary == nil {
		// no active session, stop is a no-op
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// handleListDevices handles listing discovered capture devices
func (s *Server) handleListDevices(c *gin.Context) {
	if s.devices == nil {
		c.JSON(http.StatusOK, gin.H{"devices": []camera.Device{}, "count": 0})
		return
	}

	devices := s.devices.ListDevices()
	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleDiscoverDevices triggers an immediate discovery scan
func (s *Server) handleDiscoverDevices(c *gin.Context) {
	if s.devices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Device discovery not available"})
		return
	}

	s.devices.TriggerDiscovery()
	c.JSON(http.StatusAccepted, gin.H{"status": "discovery triggered"})
}

// handleGetCapacity returns the configured capacity threshold
func (s *Server) handleGetCapacity(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session engine not available"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"limit": s.engine.CapacityLimit(),
		"min":   config.CapacityLimitMin,
		"max":   config.CapacityLimitMax,
	})
}

// handleSetCapacity updates the capacity threshold, clamped to the valid range
func (s *Server) handleSetCapacity(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session engine not available"})
		return
	}

	var req struct {
		Limit *int `json:"limit" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	limit := config.ClampCapacityLimit(*req.Limit)
	s.engine.SetCapacityLimit(limit)

	c.JSON(http.StatusOK, gin.H{"limit": limit})
}

// handleDismissAlert dismisses the capacity alert for the current session
func (s *Server) handleDismissAlert(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session engine not available"})
		return
	}

	s.engine.DismissCapacityAlert()
	c.JSON(http.StatusOK, gin.H{"dismissed": true})
}

// handleListSessions returns stored session summaries, most recent first
func (s *Server) handleListSessions(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session store not available"})
		return
	}

	sessions := s.store.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleGetSession returns one stored session summary
func (s *Server) handleGetSession(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session store not available"})
		return
	}

	summary, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleDeleteSession removes a stored session summary
func (s *Server) handleDeleteSession(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session store not available"})
		return
	}

	if !s.store.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// handleUpdateNotes attaches free-form notes to a stored session
func (s *Server) handleUpdateNotes(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session store not available"})
		return
	}

	var req struct {
		Notes *string `json:"notes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}

	if !s.store.UpdateNotes(c.Param("id"), *req.Notes) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": *req.Notes})
}

// handleExportSession renders a stored session as a CSV download
func (s *Server) handleExportSession(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Session store not available"})
		return
	}

	summary, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	data, err := session.ExportCSV(summary)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", session.ExportFilename(summary)))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}
