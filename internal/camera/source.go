package camera

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned when the selected capture device cannot
// be opened
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// Source produces JPEG snapshots from a camera. Implementations are owned
// by a single session: Start before the first capture, Stop when the
// session ends.
type Source interface {
	Start(ctx context.Context) error
	Stop()
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// CaptureOptions controls the geometry and quality of captured frames
type CaptureOptions struct {
	Width       int
	Height      int
	JPEGQuality int
}

func (o CaptureOptions) withDefaults() CaptureOptions {
	if o.Width == 0 {
		o.Width = 1280
	}
	if o.Height == 0 {
		o.Height = 720
	}
	if o.JPEGQuality == 0 {
		o.JPEGQuality = 70
	}
	return o
}

// ffmpegQScale maps a 1-100 JPEG quality to ffmpeg's 2-31 qscale range,
// where lower is better
func ffmpegQScale(quality int) int {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	q := 31 - (quality*29)/100
	if q < 2 {
		q = 2
	}
	return q
}
