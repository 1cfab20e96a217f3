package camera

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/numia-vision/edge-counter/internal/logger"
)

func newTestDiscovery(t *testing.T) *DiscoveryService {
	t.Helper()
	return NewDiscoveryService(time.Minute, t.TempDir(), logger.NewNopLogger())
}

func TestDiscoveryScanEmptyDir(t *testing.T) {
	s := newTestDiscovery(t)

	s.discoverDevices()

	if count := s.DeviceCount(); count != 0 {
		t.Fatalf("expected no devices, got %d", count)
	}
	if devices := s.ListDevices(); len(devices) != 0 {
		t.Fatalf("expected empty device list, got %v", devices)
	}
}

func TestDiscoveryScanSkipsRegularFiles(t *testing.T) {
	s := newTestDiscovery(t)
	if err := os.WriteFile(filepath.Join(s.videoDevPath, "video0"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	s.discoverDevices()

	if count := s.DeviceCount(); count != 0 {
		t.Fatalf("regular file was reported as a video device, count %d", count)
	}
}

func TestDiscoveryDropsDisconnectedDevices(t *testing.T) {
	s := newTestDiscovery(t)
	s.discoveredDevices["usb-video0"] = &Device{
		ID:   "usb-video0",
		Path: filepath.Join(s.videoDevPath, "video0"),
	}

	s.discoverDevices()

	if _, ok := s.GetDevice("usb-video0"); ok {
		t.Fatal("device with a missing node was not dropped")
	}
	if count := s.DeviceCount(); count != 0 {
		t.Fatalf("expected no devices after drop, got %d", count)
	}
}

func TestDiscoveryGetDevice(t *testing.T) {
	s := newTestDiscovery(t)
	s.discoveredDevices["usb-video1"] = &Device{
		ID:    "usb-video1",
		Path:  "/dev/video1",
		Label: "Front door camera",
	}

	device, ok := s.GetDevice("usb-video1")
	if !ok {
		t.Fatal("expected device to be found")
	}
	if device.Label != "Front door camera" {
		t.Fatalf("unexpected label %q", device.Label)
	}

	if _, ok := s.GetDevice("usb-video9"); ok {
		t.Fatal("unknown id was reported as found")
	}
}

func TestDiscoveryListDevicesSorted(t *testing.T) {
	s := newTestDiscovery(t)
	s.discoveredDevices["usb-video2"] = &Device{ID: "usb-video2", Path: "/dev/video2"}
	s.discoveredDevices["usb-video0"] = &Device{ID: "usb-video0", Path: "/dev/video0"}

	devices := s.ListDevices()
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].Path != "/dev/video0" || devices[1].Path != "/dev/video2" {
		t.Fatalf("devices not sorted by path: %v", devices)
	}
}

func TestDiscoveryStartStop(t *testing.T) {
	s := newTestDiscovery(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}
