package camera

import (
	"errors"
	"testing"
	"time"

	"github.com/numia-vision/edge-counter/internal/config"
	"github.com/numia-vision/edge-counter/internal/logger"
)

func newTestProvider(cfg config.CameraConfig, discovery *DiscoveryService) *Provider {
	return NewProvider(cfg, &FFmpegWrapper{ffmpegPath: "ffmpeg"}, discovery, logger.NewNopLogger())
}

func TestProviderDefaultPrefersRTSP(t *testing.T) {
	p := newTestProvider(config.CameraConfig{RTSPURL: "rtsp://cam.local/stream", Device: "/dev/video0"}, nil)

	src, err := p.Open("")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.(*RTSPSource); !ok {
		t.Fatalf("expected RTSP source, got %T", src)
	}
}

func TestProviderDefaultFallsBackToDevice(t *testing.T) {
	p := newTestProvider(config.CameraConfig{Device: "/dev/video0"}, nil)

	src, err := p.Open("")
	if err != nil {
		t.Fatal(err)
	}
	dev, ok := src.(*DeviceSource)
	if !ok {
		t.Fatalf("expected device source, got %T", src)
	}
	if dev.devicePath != "/dev/video0" {
		t.Fatalf("unexpected device path %q", dev.devicePath)
	}
}

func TestProviderNoCameraConfigured(t *testing.T) {
	p := newTestProvider(config.CameraConfig{}, nil)

	_, err := p.Open("")
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestProviderOpensDiscoveredDevice(t *testing.T) {
	discovery := NewDiscoveryService(time.Minute, t.TempDir(), logger.NewNopLogger())
	discovery.discoveredDevices["usb-video2"] = &Device{
		ID:   "usb-video2",
		Path: "/dev/video2",
	}

	p := newTestProvider(config.CameraConfig{}, discovery)

	src, err := p.Open("usb-video2")
	if err != nil {
		t.Fatal(err)
	}
	dev, ok := src.(*DeviceSource)
	if !ok {
		t.Fatalf("expected device source, got %T", src)
	}
	if dev.devicePath != "/dev/video2" {
		t.Fatalf("unexpected device path %q", dev.devicePath)
	}
}

func TestProviderUnknownDevice(t *testing.T) {
	discovery := NewDiscoveryService(time.Minute, t.TempDir(), logger.NewNopLogger())
	p := newTestProvider(config.CameraConfig{}, discovery)

	_, err := p.Open("usb-video9")
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}
