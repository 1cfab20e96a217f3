package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/numia-vision/edge-counter/internal/camera"
	"github.com/numia-vision/edge-counter/internal/config"
	"github.com/numia-vision/edge-counter/internal/health"
	"github.com/numia-vision/edge-counter/internal/logger"
	"github.com/numia-vision/edge-counter/internal/metrics"
	"github.com/numia-vision/edge-counter/internal/service"
	"github.com/numia-vision/edge-counter/internal/session"
	"github.com/numia-vision/edge-counter/internal/store"
	"github.com/numia-vision/edge-counter/internal/transport"
	"github.com/numia-vision/edge-counter/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Edge Counter",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// Session history: a failed database open degrades to memory-only
	var db *store.Database
	dbPath := cfg.DatabasePath()
	db, err = store.NewDatabase(dbPath)
	if err != nil {
		log.Warn("Session history database unavailable, running memory-only", "path", dbPath, "error", err)
		db = nil
	}
	sessionStore := store.New(db, cfg.Store.MaxSessions, log)
	if err := sessionStore.Load(ctx); err != nil {
		log.Warn("Failed to load session history", "error", err)
	}

	// Detection service channel
	detector := transport.NewClient(transport.ClientConfig{
		URL:               cfg.Detector.URL,
		ReconnectInterval: cfg.Detector.ReconnectInterval,
		HandshakeTimeout:  cfg.Detector.HandshakeTimeout,
		PingInterval:      cfg.Detector.PingInterval,
	}, log)

	// Camera stack: ffmpeg is required for capture but not for the rest of
	// the system, so a missing binary degrades session start instead of
	// failing boot
	var provider *camera.Provider
	discovery := camera.NewDiscoveryService(cfg.Camera.DiscoveryInterval, cfg.Camera.DeviceDir, log)
	ffmpeg, err := camera.NewFFmpegWrapper(log)
	if err != nil {
		log.Warn("FFmpeg unavailable, sessions cannot capture frames", "error", err)
	} else {
		provider = camera.NewProvider(cfg.Camera, ffmpeg, discovery, log)
	}

	// Aggregation engine
	engine := session.NewEngine(session.EngineConfig{
		Reducer: session.Config{
			EventCooldown: cfg.Session.EventCooldown,
			CapacityLimit: cfg.Session.CapacityLimit,
			ChartWindow:   cfg.Session.ChartWindow,
			MaxEvents:     cfg.Session.MaxEvents,
			MaxArrivals:   cfg.Session.MaxArrivals,
			TrendWindow:   cfg.Session.TrendWindow,
		},
		CaptureInterval: cfg.Camera.CaptureInterval,
		Provider: func(deviceID string) (session.FrameSource, error) {
			if provider == nil {
				return nil, fmt.Errorf("%w: ffmpeg not installed", camera.ErrDeviceUnavailable)
			}
			return provider.Open(deviceID)
		},
		Sender:  detector,
		Store:   sessionStore,
		Metrics: m,
	}, log)

	detector.OnObservation(func(obs transport.Observation) {
		engine.Observe(session.Observation{
			Count:     obs.Count,
			Timestamp: obs.Timestamp,
			Frame:     obs.Frame,
		})
	})

	// Web server and live push
	webServer := web.NewServer(&cfg.Web, log, m)
	webServer.SetVersion(version)
	webServer.SetDependencies(engine, sessionStore, discovery)
	engine.OnSnapshot(func(snap session.Snapshot) {
		webServer.Hub().Broadcast(snap)
	})

	detector.OnStateChange(func(s transport.State) {
		switch s {
		case transport.StateConnecting:
			m.Reconnect()
		case transport.StateConnected:
			m.SetConnected(true)
		case transport.StateDisconnected:
			m.SetConnected(false)
		}
		// connection state is part of the dashboard snapshot
		webServer.Hub().Broadcast(engine.Snapshot())
	})
	detector.OnMalformed(m.MalformedMessage)

	// Service manager
	svcMgr := service.NewManager(log)
	svcMgr.Register(detector)
	svcMgr.Register(discovery)
	svcMgr.Register(engine)
	svcMgr.Register(webServer)

	// Health checks, surfaced through the web API
	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewDatabaseChecker(dbPath))
	healthMgr.RegisterChecker(health.NewDetectorChecker(detector, cfg.Detector.URL))
	healthMgr.RegisterChecker(health.NewCameraChecker(discovery, cfg.Camera.RTSPURL))
	healthMgr.RegisterChecker(health.NewDataDirChecker(cfg.Store.DataDir))
	webServer.SetHealthManager(healthMgr)

	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	if db != nil {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", "error", err)
		}
	}

	log.Info("Shutdown complete")
}
