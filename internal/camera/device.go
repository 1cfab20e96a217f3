package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/numia-vision/edge-counter/internal/logger"
)

// DeviceSource captures JPEG frames from a V4L2 device via one-shot FFmpeg
// grabs. Consecutive captures are serialized because V4L2 devices reject
// concurrent opens.
type DeviceSource struct {
	devicePath string
	opts       CaptureOptions
	ffmpeg     *FFmpegWrapper
	logger     *logger.Logger
	mu         sync.Mutex
	started    bool
}

// NewDeviceSource creates a frame source for a local video device
func NewDeviceSource(devicePath string, opts CaptureOptions, ffmpeg *FFmpegWrapper, log *logger.Logger) *DeviceSource {
	return &DeviceSource{
		devicePath: devicePath,
		opts:       opts.withDefaults(),
		ffmpeg:     ffmpeg,
		logger:     log,
	}
}

// Start verifies the device node exists and is a character device
func (s *DeviceSource) Start(ctx context.Context) error {
	info, err := os.Stat(s.devicePath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, s.devicePath)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return fmt.Errorf("%w: %s is not a video device", ErrDeviceUnavailable, s.devicePath)
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Device source started", "device", s.devicePath)
	return nil
}

// Stop releases the source
func (s *DeviceSource) Stop() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// CaptureFrame grabs a single JPEG frame from the device
func (s *DeviceSource) CaptureFrame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, fmt.Errorf("%w: source not started", ErrDeviceUnavailable)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", s.opts.Width, s.opts.Height),
		"-i", s.devicePath,
		"-frames:v", "1",
		"-q:v", strconv.Itoa(ffmpegQScale(s.opts.JPEGQuality)),
		"-f", "image2",
		"-",
	}

	cmd := s.ffmpeg.BuildCommand(ctx, args)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("frame capture failed: %s: %w", stderr.String(), err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("frame capture produced no data")
	}

	return stdout.Bytes(), nil
}
