package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/numia-vision/edge-counter/internal/logger"
)

// recordingService appends its lifecycle transitions to a shared journal
type recordingService struct {
	*ServiceBase
	journal  *journal
	startErr error
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

func newRecordingService(name string, j *journal, startErr error) *recordingService {
	return &recordingService{
		ServiceBase: NewServiceBase(name, logger.NewNopLogger()),
		journal:     j,
		startErr:    startErr,
	}
}

func (s *recordingService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.journal.add("start:" + s.Name())
	return nil
}

func (s *recordingService) Stop(ctx context.Context) error {
	s.journal.add("stop:" + s.Name())
	return nil
}

func TestManagerStartAndShutdownOrder(t *testing.T) {
	j := &journal{}
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(newRecordingService("first", j, nil))
	mgr.Register(newRecordingService("second", j, nil))
	mgr.Register(newRecordingService("third", j, nil))

	if got := mgr.GetServiceCount(); got != 3 {
		t.Fatalf("Expected 3 registered services, got %d", got)
	}

	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Failed to shut down: %v", err)
	}

	want := []string{
		"start:first", "start:second", "start:third",
		"stop:third", "stop:second", "stop:first",
	}
	got := j.list()
	if len(got) != len(want) {
		t.Fatalf("Expected %d transitions, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestManagerStartContinuesPastFailure(t *testing.T) {
	j := &journal{}
	startErr := errors.New("no device")
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(newRecordingService("broken", j, startErr))
	mgr.Register(newRecordingService("healthy", j, nil))

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("A failed service should not fail Start: %v", err)
	}

	broken := mgr.GetServiceStatus("broken")
	if broken == nil || broken.GetStatus() != StatusError {
		t.Errorf("Expected broken service in error state, got %v", broken)
	}
	if !errors.Is(broken.GetError(), startErr) {
		t.Errorf("Expected recorded start error, got %v", broken.GetError())
	}

	healthy := mgr.GetServiceStatus("healthy")
	if healthy == nil || !healthy.IsRunning() {
		t.Error("Expected healthy service running despite earlier failure")
	}
}

func TestManagerPublishesLifecycleEvents(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	ch := mgr.GetEventBus().Subscribe(EventTypeServiceStarted)

	j := &journal{}
	mgr.Register(newRecordingService("solo", j, nil))
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	event := receiveEvent(t, ch)
	if event.Data["service"] != "solo" {
		t.Errorf("Unexpected started event: %+v", event)
	}
}

func TestManagerStatuses(t *testing.T) {
	j := &journal{}
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(newRecordingService("one", j, nil))
	mgr.Register(newRecordingService("two", j, nil))

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	statuses := mgr.GetAllStatuses()
	if len(statuses) != 2 {
		t.Fatalf("Expected 2 statuses, got %d", len(statuses))
	}
	for name, status := range statuses {
		if !status.IsRunning() {
			t.Errorf("Expected %s running, got %v", name, status.GetStatus())
		}
		if status.Uptime() <= 0 {
			t.Errorf("Expected positive uptime for %s", name)
		}
	}

	if mgr.GetServiceStatus("missing") != nil {
		t.Error("Unknown service should have no status")
	}
}
