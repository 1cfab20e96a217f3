package camera

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/pion/rtp"

	"github.com/numia-vision/edge-counter/internal/logger"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// RTSPSource captures JPEG frames from an RTSP camera. It keeps the RTSP
// session open for the lifetime of the source and holds the most recent
// H.264 access unit; CaptureFrame transcodes that unit to JPEG.
type RTSPSource struct {
	url    string
	opts   CaptureOptions
	ffmpeg *FFmpegWrapper
	logger *logger.Logger

	client *gortsplib.Client

	mu      sync.RWMutex
	latest  []byte // Annex B access unit with SPS/PPS prepended
	started bool
}

// NewRTSPSource creates a frame source for an RTSP stream
func NewRTSPSource(url string, opts CaptureOptions, ffmpeg *FFmpegWrapper, log *logger.Logger) *RTSPSource {
	return &RTSPSource{
		url:    url,
		opts:   opts.withDefaults(),
		ffmpeg: ffmpeg,
		logger: log,
	}
}

// Start connects to the RTSP stream and begins collecting access units
func (s *RTSPSource) Start(ctx context.Context) error {
	s.logger.Info("Connecting to RTSP stream", "url", s.url)

	u, err := base.ParseURL(s.url)
	if err != nil {
		return fmt.Errorf("%w: invalid rtsp url: %v", ErrDeviceUnavailable, err)
	}

	client := &gortsplib.Client{}

	desc, _, err := client.Describe(u)
	if err != nil {
		return fmt.Errorf("%w: describe failed: %v", ErrDeviceUnavailable, err)
	}

	// Find H.264 format
	var h264Format *format.H264
	var h264Media *description.Media
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if h264, ok := forma.(*format.H264); ok {
				h264Format = h264
				h264Media = media
				break
			}
		}
		if h264Format != nil {
			break
		}
	}
	if h264Format == nil {
		client.Close()
		return fmt.Errorf("%w: H.264 format not found in stream", ErrDeviceUnavailable)
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		client.Close()
		return fmt.Errorf("%w: setup failed: %v", ErrDeviceUnavailable, err)
	}

	decoder := &rtph264.Decoder{}
	if err := decoder.Init(); err != nil {
		client.Close()
		return fmt.Errorf("failed to init decoder: %w", err)
	}

	sps := h264Format.SPS
	pps := h264Format.PPS

	client.OnPacketRTP(h264Media, h264Format, func(pkt *rtp.Packet) {
		nalus, err := decoder.Decode(pkt)
		if err != nil {
			return
		}
		s.storeAccessUnit(sps, pps, nalus)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return fmt.Errorf("%w: play failed: %v", ErrDeviceUnavailable, err)
	}

	s.mu.Lock()
	s.client = client
	s.started = true
	s.mu.Unlock()

	s.logger.Info("RTSP stream connected", "url", s.url)
	return nil
}

// Stop closes the RTSP session
func (s *RTSPSource) Stop() {
	s.mu.Lock()
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.started = false
	s.latest = nil
	s.mu.Unlock()
}

// storeAccessUnit assembles an Annex B access unit and keeps it as the
// latest frame. Parameter sets are prepended so the unit decodes standalone.
func (s *RTSPSource) storeAccessUnit(sps, pps []byte, nalus [][]byte) {
	var buf bytes.Buffer
	if len(sps) > 0 {
		buf.Write(annexBStartCode)
		buf.Write(sps)
	}
	if len(pps) > 0 {
		buf.Write(annexBStartCode)
		buf.Write(pps)
	}
	for _, nalu := range nalus {
		buf.Write(annexBStartCode)
		buf.Write(nalu)
	}

	s.mu.Lock()
	s.latest = buf.Bytes()
	s.mu.Unlock()
}

// CaptureFrame transcodes the latest access unit to JPEG
func (s *RTSPSource) CaptureFrame(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	started := s.started
	latest := s.latest
	s.mu.RUnlock()

	if !started {
		return nil, fmt.Errorf("%w: source not started", ErrDeviceUnavailable)
	}
	if len(latest) == 0 {
		return nil, fmt.Errorf("no frame received yet")
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "h264",
		"-i", "-",
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", s.opts.Width, s.opts.Height),
		"-q:v", strconv.Itoa(ffmpegQScale(s.opts.JPEGQuality)),
		"-f", "image2",
		"-",
	}

	cmd := s.ffmpeg.BuildCommand(ctx, args)
	cmd.Stdin = bytes.NewReader(latest)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("frame transcode failed: %s: %w", stderr.String(), err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("frame transcode produced no data")
	}

	return stdout.Bytes(), nil
}
