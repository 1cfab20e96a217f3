package camera

import (
	"fmt"

	"github.com/numia-vision/edge-counter/internal/config"
	"github.com/numia-vision/edge-counter/internal/logger"
)

// Provider resolves a device id to a frame source. An empty id selects the
// configured default: the RTSP stream when one is set, otherwise the
// configured local device.
type Provider struct {
	cfg       config.CameraConfig
	ffmpeg    *FFmpegWrapper
	discovery *DiscoveryService
	logger    *logger.Logger
}

// NewProvider creates a frame source provider
func NewProvider(cfg config.CameraConfig, ffmpeg *FFmpegWrapper, discovery *DiscoveryService, log *logger.Logger) *Provider {
	return &Provider{
		cfg:       cfg,
		ffmpeg:    ffmpeg,
		discovery: discovery,
		logger:    log,
	}
}

// Open returns a frame source for the given device id
func (p *Provider) Open(deviceID string) (Source, error) {
	opts := CaptureOptions{
		Width:       p.cfg.Width,
		Height:      p.cfg.Height,
		JPEGQuality: p.cfg.JPEGQuality,
	}

	if deviceID == "" {
		if p.cfg.RTSPURL != "" {
			return NewRTSPSource(p.cfg.RTSPURL, opts, p.ffmpeg, p.logger), nil
		}
		if p.cfg.Device != "" {
			return NewDeviceSource(p.cfg.Device, opts, p.ffmpeg, p.logger), nil
		}
		return nil, fmt.Errorf("%w: no camera configured", ErrDeviceUnavailable)
	}

	if p.discovery != nil {
		if device, ok := p.discovery.GetDevice(deviceID); ok {
			return NewDeviceSource(device.Path, opts, p.ffmpeg, p.logger), nil
		}
	}
	return nil, fmt.Errorf("%w: unknown device %q", ErrDeviceUnavailable, deviceID)
}
