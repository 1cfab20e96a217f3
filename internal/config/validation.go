package config

import (
	"fmt"
	"strings"
)

// CapacityLimitMin and CapacityLimitMax bound the configurable threshold
const (
	CapacityLimitMin = 1
	CapacityLimitMax = 50
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if c.Detector.URL == "" {
		errors = append(errors, "detector.url is required")
	}
	if !strings.HasPrefix(c.Detector.URL, "ws://") && !strings.HasPrefix(c.Detector.URL, "wss://") {
		errors = append(errors, fmt.Sprintf("detector.url must be a ws:// or wss:// URL, got: %s", c.Detector.URL))
	}
	if c.Detector.ReconnectInterval <= 0 {
		errors = append(errors, fmt.Sprintf("detector.reconnect_interval must be > 0, got: %v", c.Detector.ReconnectInterval))
	}

	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errors = append(errors, fmt.Sprintf("camera resolution must be positive, got: %dx%d", c.Camera.Width, c.Camera.Height))
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("camera.jpeg_quality must be between 1 and 100, got: %d", c.Camera.JPEGQuality))
	}
	if c.Camera.CaptureInterval <= 0 {
		errors = append(errors, fmt.Sprintf("camera.capture_interval must be > 0, got: %v", c.Camera.CaptureInterval))
	}

	if c.Session.CapacityLimit < CapacityLimitMin || c.Session.CapacityLimit > CapacityLimitMax {
		errors = append(errors, fmt.Sprintf("session.capacity_limit must be between %d and %d, got: %d",
			CapacityLimitMin, CapacityLimitMax, c.Session.CapacityLimit))
	}
	if c.Session.EventCooldown < 0 {
		errors = append(errors, fmt.Sprintf("session.event_cooldown must be >= 0, got: %v", c.Session.EventCooldown))
	}
	if c.Session.ChartWindow <= 0 {
		errors = append(errors, fmt.Sprintf("session.chart_window must be > 0, got: %d", c.Session.ChartWindow))
	}
	if c.Session.MaxEvents <= 0 {
		errors = append(errors, fmt.Sprintf("session.max_events must be > 0, got: %d", c.Session.MaxEvents))
	}

	if c.Store.DataDir == "" {
		errors = append(errors, "store.data_dir is required")
	}
	if c.Store.MaxSessions <= 0 {
		errors = append(errors, fmt.Sprintf("store.max_sessions must be > 0, got: %d", c.Store.MaxSessions))
	}

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// ClampCapacityLimit clamps a requested capacity limit into the valid range
func ClampCapacityLimit(limit int) int {
	if limit < CapacityLimitMin {
		return CapacityLimitMin
	}
	if limit > CapacityLimitMax {
		return CapacityLimitMax
	}
	return limit
}
