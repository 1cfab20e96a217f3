package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Detector DetectorConfig `yaml:"detector"`
	Camera   CameraConfig   `yaml:"camera"`
	Session  SessionConfig  `yaml:"session"`
	Store    StoreConfig    `yaml:"store"`
	Web      WebConfig      `yaml:"web"`
	Log      LogConfig      `yaml:"log,omitempty"`
}

// DetectorConfig contains detection service transport configuration
type DetectorConfig struct {
	URL               string        `yaml:"url"`                // websocket URL of the detection service
	ReconnectInterval time.Duration `yaml:"reconnect_interval"` // fixed retry backoff
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
}

// CameraConfig contains frame source configuration
type CameraConfig struct {
	DeviceDir         string        `yaml:"device_dir"` // directory scanned for video devices
	Device            string        `yaml:"device"`     // default device, e.g. /dev/video0
	RTSPURL           string        `yaml:"rtsp_url"`   // optional RTSP source instead of a local device
	Width             int           `yaml:"width"`
	Height            int           `yaml:"height"`
	JPEGQuality       int           `yaml:"jpeg_quality"` // 1-100
	CaptureInterval   time.Duration `yaml:"capture_interval"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
}

// SessionConfig contains aggregation engine configuration
type SessionConfig struct {
	EventCooldown time.Duration `yaml:"event_cooldown"`
	CapacityLimit int           `yaml:"capacity_limit"` // 1-50
	ChartWindow   int           `yaml:"chart_window"`   // live chart samples kept
	MaxEvents     int           `yaml:"max_events"`     // event list cap
	MaxArrivals   int           `yaml:"max_arrivals"`   // arrival timestamps kept for inter-arrival stats
	TrendWindow   int           `yaml:"trend_window"`
}

// StoreConfig contains session store configuration
type StoreConfig struct {
	DataDir     string `yaml:"data_dir"`
	MaxSessions int    `yaml:"max_sessions"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/numia-counter/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Detector.URL == "" {
		c.Detector.URL = "ws://localhost:8000/ws/detect"
	}
	if c.Detector.ReconnectInterval == 0 {
		c.Detector.ReconnectInterval = 3 * time.Second
	}
	if c.Detector.HandshakeTimeout == 0 {
		c.Detector.HandshakeTimeout = 10 * time.Second
	}
	if c.Detector.PingInterval == 0 {
		c.Detector.PingInterval = 30 * time.Second
	}

	if c.Camera.DeviceDir == "" {
		c.Camera.DeviceDir = "/dev"
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 1280
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 720
	}
	if c.Camera.JPEGQuality == 0 {
		c.Camera.JPEGQuality = 70
	}
	if c.Camera.CaptureInterval == 0 {
		c.Camera.CaptureInterval = 400 * time.Millisecond
	}
	if c.Camera.DiscoveryInterval == 0 {
		c.Camera.DiscoveryInterval = 300 * time.Second
	}

	if c.Session.EventCooldown == 0 {
		c.Session.EventCooldown = 1500 * time.Millisecond
	}
	if c.Session.CapacityLimit == 0 {
		c.Session.CapacityLimit = 10
	}
	if c.Session.ChartWindow == 0 {
		c.Session.ChartWindow = 120
	}
	if c.Session.MaxEvents == 0 {
		c.Session.MaxEvents = 100
	}
	if c.Session.MaxArrivals == 0 {
		c.Session.MaxArrivals = 50
	}
	if c.Session.TrendWindow == 0 {
		c.Session.TrendWindow = 10
	}

	if c.Store.DataDir == "" {
		c.Store.DataDir = "./data"
	}
	if c.Store.MaxSessions == 0 {
		c.Store.MaxSessions = 50
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8081
	}
}

// DatabasePath returns the SQLite database path under the data dir
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Store.DataDir, "db", "sessions.db")
}
