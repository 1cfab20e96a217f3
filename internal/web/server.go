package web

import (
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/numia-vision/edge-counter/internal/camera"
	"github.com/numia-vision/edge-counter/internal/config"
	"github.com/numia-vision/edge-counter/internal/health"
	"github.com/numia-vision/edge-counter/internal/logger"
	"github.com/numia-vision/edge-counter/internal/metrics"
	"github.com/numia-vision/edge-counter/internal/service"
	"github.com/numia-vision/edge-counter/internal/session"
	"github.com/numia-vision/edge-counter/internal/store"
)

//go:embed static/*
var staticFiles embed.FS

var staticContentFS fs.FS

func init() {
	var err error
	staticContentFS, err = fs.Sub(staticFiles, "static")
	if err != nil {
		staticContentFS = staticFiles
	}
}

// SessionEngine is the command surface the API exposes
type SessionEngine interface {
	StartSession(deviceID string) error
	StopSession() (*session.Summary, error)
	Snapshot() session.Snapshot
	SetCapacityLimit(limit int)
	CapacityLimit() int
	DismissCapacityAlert()
}

// SessionStore is the read/delete surface over persisted summaries
type SessionStore interface {
	List() []session.Summary
	Get(id string) (session.Summary, bool)
	Delete(id string) bool
	Count() int
	UpdateNotes(id, notes string) bool
	TodayStats(now time.Time) store.TodayStats
	WeeklyHeatmap(now time.Time) []store.HeatmapCell
}

// DeviceLister exposes discovered capture devices
type DeviceLister interface {
	ListDevices() []camera.Device
	TriggerDiscovery()
}

// HealthReporter aggregates component health
type HealthReporter interface {
	Check(ctx context.Context) health.Report
}

// Server is the presentation layer: REST API, live websocket push and the
// embedded dashboard. It projects engine state and never aggregates.
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	hub        *Hub

	engine    SessionEngine
	store     SessionStore
	devices   DeviceLister
	healthMgr HealthReporter
	metrics   *metrics.Metrics
	version   string
	startTime time.Time
}

// NewServer creates the web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger, m *metrics.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		hub:         NewHub(log, m),
		metrics:     m,
		version:     "dev",
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetDependencies wires the engine, store and device list
func (s *Server) SetDependencies(engine SessionEngine, store SessionStore, devices DeviceLister) {
	s.engine = engine
	s.store = store
	s.devices = devices
}

// SetHealthManager wires the health aggregation
func (s *Server) SetHealthManager(mgr HealthReporter) {
	s.healthMgr = mgr
}

// Hub returns the live push hub so the engine snapshot callback can reach it
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	s.setupRoutes()
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections manage their own deadlines
		IdleTimeout:  0,
	}

	go func() {
		s.LogInfo("Starting web server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", addr)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		s.LogInfo("Web server started", "address", addr)
		return nil
	}
}

// Stop stops the web server and the live push hub
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.LogInfo("Stopping web server")
	s.hub.Stop()
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/stats/current", s.handleCurrentStats)
		api.GET("/stats/today", s.handleTodayStats)
		api.GET("/stats/heatmap", s.handleWeeklyHeatmap)

		sessionAPI := api.Group("/session")
		{
			sessionAPI.POST("/start", s.handleStartSession)
			sessionAPI.POST("/stop", s.handleStopSession)
		}

		api.GET("/devices", s.handleListDevices)
		api.POST("/devices/discover", s.handleDiscoverDevices)

		capacity := api.Group("/capacity")
		{
			capacity.GET("", s.handleGetCapacity)
			capacity.PUT("", s.handleSetCapacity)
			capacity.POST("/dismiss", s.handleDismissAlert)
		}

		sessions := api.Group("/sessions")
		{
			sessions.GET("", s.handleListSessions)
			sessions.GET("/:id", s.handleGetSession)
			sessions.DELETE("/:id", s.handleDeleteSession)
			sessions.PUT("/:id/notes", s.handleUpdateNotes)
			sessions.GET("/:id/export", s.handleExportSession)
		}
	}

	// Prometheus scrape endpoint
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Live dashboard push
	s.router.GET("/ws/live", s.hub.handleLive)

	// Serve the embedded dashboard for all non-API routes
	s.router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}

		indexFile, err := staticContentFS.Open("index.html")
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		defer indexFile.Close()

		content, err := io.ReadAll(indexFile)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read index.html"})
			return
		}

		c.Data(http.StatusOK, "text/html; charset=utf-8", content)
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
