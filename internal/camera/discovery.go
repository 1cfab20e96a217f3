package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/numia-vision/edge-counter/internal/logger"
	"github.com/numia-vision/edge-counter/internal/service"
)

// Device is a discovered local video device
type Device struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Label        string    `json:"label"`
	DiscoveredAt time.Time `json:"discoveredAt"`
	LastSeen     time.Time `json:"lastSeen"`
}

// DiscoveryService discovers video devices connected to the system
type DiscoveryService struct {
	*service.ServiceBase
	discoveredDevices map[string]*Device
	mu                sync.RWMutex
	ctx               context.Context
	cancel            context.CancelFunc
	discoveryInterval time.Duration
	videoDevPath      string
}

// NewDiscoveryService creates a new video device discovery service
func NewDiscoveryService(discoveryInterval time.Duration, videoDevPath string, log *logger.Logger) *DiscoveryService {
	if videoDevPath == "" {
		videoDevPath = "/dev"
	}
	if discoveryInterval == 0 {
		discoveryInterval = 30 * time.Second
	}

	return &DiscoveryService{
		ServiceBase:       service.NewServiceBase("camera-discovery", log),
		discoveredDevices: make(map[string]*Device),
		discoveryInterval: discoveryInterval,
		videoDevPath:      videoDevPath,
	}
}

// Start starts the discovery service
func (s *DiscoveryService) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)
	s.LogInfo("Starting camera discovery service")

	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.discoveryLoop()

	s.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop stops the discovery service
func (s *DiscoveryService) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)
	s.LogInfo("Stopping camera discovery service")

	if s.cancel != nil {
		s.cancel()
	}
	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// discoveryLoop runs periodic device discovery
func (s *DiscoveryService) discoveryLoop() {
	ticker := time.NewTicker(s.discoveryInterval)
	defer ticker.Stop()

	s.discoverDevices()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.discoverDevices()
		}
	}
}

// discoverDevices scans for video device nodes
func (s *DiscoveryService) discoverDevices() {
	paths, err := s.findVideoDevices()
	if err != nil {
		s.LogError("Failed to find video devices", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range paths {
		id := fmt.Sprintf("usb-%s", filepath.Base(path))

		if existing, ok := s.discoveredDevices[id]; ok {
			existing.LastSeen = time.Now()
			continue
		}

		device := &Device{
			ID:           id,
			Path:         path,
			Label:        s.deviceLabel(path),
			DiscoveredAt: time.Now(),
			LastSeen:     time.Now(),
		}
		s.discoveredDevices[id] = device

		if s.GetEventBus() != nil {
			s.PublishEvent(service.EventTypeCameraDiscovered, map[string]interface{}{
				"device_id":   device.ID,
				"device_path": device.Path,
				"label":       device.Label,
			})
		}
		s.LogInfo("Discovered video device", "id", device.ID, "device", path, "label", device.Label)
	}

	// Drop devices whose nodes disappeared
	for id, device := range s.discoveredDevices {
		if _, err := os.Stat(device.Path); err != nil {
			delete(s.discoveredDevices, id)

			if s.GetEventBus() != nil {
				s.PublishEvent(service.EventTypeCameraUnavailable, map[string]interface{}{
					"device_id":   id,
					"device_path": device.Path,
				})
			}
			s.LogInfo("Video device disconnected", "id", id, "device", device.Path)
		}
	}
}

// findVideoDevices finds video character devices under the device dir
func (s *DiscoveryService) findVideoDevices() ([]string, error) {
	pattern := filepath.Join(s.videoDevPath, "video*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob video devices: %w", err)
	}

	var devices []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeCharDevice != 0 {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// deviceLabel resolves a human readable name via v4l2-ctl when available
func (s *DiscoveryService) deviceLabel(devicePath string) string {
	if _, err := exec.LookPath("v4l2-ctl"); err != nil {
		return filepath.Base(devicePath)
	}

	cmd := exec.Command("v4l2-ctl", "--device", devicePath, "--info")
	output, err := cmd.Output()
	if err != nil {
		return filepath.Base(devicePath)
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Card type") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return filepath.Base(devicePath)
}

// ListDevices returns all discovered devices sorted by path
func (s *DiscoveryService) ListDevices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]Device, 0, len(s.discoveredDevices))
	for _, device := range s.discoveredDevices {
		devices = append(devices, *device)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Path < devices[j].Path
	})
	return devices
}

// DeviceCount returns the number of discovered devices
func (s *DiscoveryService) DeviceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.discoveredDevices)
}

// GetDevice returns a discovered device by id
func (s *DiscoveryService) GetDevice(id string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	device, ok := s.discoveredDevices[id]
	if !ok {
		return Device{}, false
	}
	return *device, true
}

// TriggerDiscovery runs an immediate discovery scan
func (s *DiscoveryService) TriggerDiscovery() {
	go s.discoverDevices()
}
