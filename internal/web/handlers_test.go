package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numia-vision/edge-counter/internal/camera"
	"github.com/numia-vision/edge-counter/internal/config"
	"github.com/numia-vision/edge-counter/internal/logger"
	"github.com/numia-vision/edge-counter/internal/metrics"
	"github.com/numia-vision/edge-counter/internal/session"
	"github.com/numia-vision/edge-counter/internal/store"
)

type fakeEngine struct {
	snapshot  session.Snapshot
	summary   *session.Summary
	startErr  error
	capacity  int
	dismissed bool
	started   []string
}

func (f *fakeEngine) StartSession(deviceID string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, deviceID)
	f.snapshot.Active = true
	return nil
}

func (f *fakeEngine) StopSession() (*session.Summary, error) {
	f.snapshot.Active = false
	return f.summary, nil
}

func (f *fakeEngine) Snapshot() session.Snapshot { return f.snapshot }
func (f *fakeEngine) SetCapacityLimit(limit int) { f.capacity = limit }
func (f *fakeEngine) CapacityLimit() int         { return f.capacity }
func (f *fakeEngine) DismissCapacityAlert()      { f.dismissed = true }

type fakeSessionStore struct {
	sessions []session.Summary
}

func (f *fakeSessionStore) List() []session.Summary { return f.sessions }

func (f *fakeSessionStore) Get(id string) (session.Summary, bool) {
	for _, s := range f.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return session.Summary{}, false
}

func (f *fakeSessionStore) Delete(id string) bool {
	for i, s := range f.sessions {
		if s.ID == id {
			f.sessions = append(f.sessions[:i], f.sessions[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakeSessionStore) Count() int { return len(f.sessions) }

func (f *fakeSessionStore) UpdateNotes(id, notes string) bool {
	for i := range f.sessions {
		if f.sessions[i].ID == id {
			f.sessions[i].Notes = notes
			return true
		}
	}
	return false
}

func (f *fakeSessionStore) TodayStats(now time.Time) store.TodayStats {
	return store.TodayStats{AvgCount: 3.5, MaxCount: 8, MinCount: 1, TotalSamples: 40, Sessions: 2}
}

func (f *fakeSessionStore) WeeklyHeatmap(now time.Time) []store.HeatmapCell {
	return []store.HeatmapCell{{Day: 1, Hour: 9, AvgCount: 4.2}}
}

type fakeDevices struct {
	devices   []camera.Device
	triggered bool
}

func (f *fakeDevices) ListDevices() []camera.Device { return f.devices }
func (f *fakeDevices) TriggerDiscovery()            { f.triggered = true }

func newTestServer(t *testing.T, engine *fakeEngine, store *fakeSessionStore, devices *fakeDevices) *Server {
	t.Helper()
	s := NewServer(&config.WebConfig{Host: "127.0.0.1", Port: 8081}, logger.NewNopLogger(), metrics.New())
	s.SetDependencies(engine, store, devices)
	s.setupRoutes()
	return s
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHandleHealthFallback(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestHandleCurrentStats(t *testing.T) {
	engine := &fakeEngine{snapshot: session.Snapshot{Active: true, CurrentCount: 5}}
	s := newTestServer(t, engine, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "GET", "/api/stats/current", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Snapshot session.Snapshot `json:"snapshot"`
		Clients  int              `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Snapshot.Active)
	assert.Equal(t, 5, resp.Snapshot.CurrentCount)
	assert.Equal(t, 0, resp.Clients)
}

func TestHandleStartSession(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestServer(t, engine, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "POST", "/api/session/start", map[string]string{"deviceId": "usb-video0"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, engine.started, 1)
	assert.Equal(t, "usb-video0", engine.started[0])

	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.True(t, snap.Active)
}

func TestHandleStartSessionWithoutBody(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestServer(t, engine, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "POST", "/api/session/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, engine.started, 1)
	assert.Equal(t, "", engine.started[0])
}

func TestHandleStartSessionDeviceUnavailable(t *testing.T) {
	engine := &fakeEngine{startErr: fmt.Errorf("%w: no camera found", camera.ErrDeviceUnavailable)}
	s := newTestServer(t, engine, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "POST", "/api/session/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleStopSession(t *testing.T) {
	summary := &session.Summary{ID: "sess-1", MaxPersons: 8}
	engine := &fakeEngine{summary: summary}
	s := newTestServer(t, engine, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "POST", "/api/session/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp session.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.ID)
	assert.Equal(t, 8, resp.MaxPersons)
}

func TestHandleStopSessionWhileIdle(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "POST", "/api/session/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["active"])
}

func TestHandleDevices(t *testing.T) {
	devices := &fakeDevices{devices: []camera.Device{
		{ID: "usb-video0", Path: "/dev/video0", Label: "HD Webcam"},
	}}
	s := newTestServer(t, &fakeEngine{}, &fakeSessionStore{}, devices)

	w := doRequest(s, "GET", "/api/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Devices []camera.Device `json:"devices"`
		Count   int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "usb-video0", resp.Devices[0].ID)

	w = doRequest(s, "POST", "/api/devices/discover", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, devices.triggered)
}

func TestHandleCapacity(t *testing.T) {
	engine := &fakeEngine{capacity: 10}
	s := newTestServer(t, engine, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "GET", "/api/capacity", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 10, resp["limit"])
	assert.Equal(t, config.CapacityLimitMin, resp["min"])
	assert.Equal(t, config.CapacityLimitMax, resp["max"])

	// valid update
	w = doRequest(s, "PUT", "/api/capacity", map[string]int{"limit": 20})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, engine.capacity)

	// out-of-range values are clamped, not rejected
	w = doRequest(s, "PUT", "/api/capacity", map[string]int{"limit": 500})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, config.CapacityLimitMax, engine.capacity)

	w = doRequest(s, "PUT", "/api/capacity", map[string]int{"limit": -3})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, config.CapacityLimitMin, engine.capacity)

	// missing limit is a client error
	w = doRequest(s, "PUT", "/api/capacity", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDismissAlert(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestServer(t, engine, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "POST", "/api/capacity/dismiss", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, engine.dismissed)
}

func TestHandleSessions(t *testing.T) {
	store := &fakeSessionStore{sessions: []session.Summary{
		{ID: "sess-2", StartTime: time.Now()},
		{ID: "sess-1", StartTime: time.Now().Add(-time.Hour)},
	}}
	s := newTestServer(t, &fakeEngine{}, store, &fakeDevices{})

	w := doRequest(s, "GET", "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions []session.Summary `json:"sessions"`
		Count    int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "sess-2", resp.Sessions[0].ID)

	w = doRequest(s, "GET", "/api/sessions/sess-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, "GET", "/api/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(s, "DELETE", "/api/sessions/sess-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, store.Count())

	w = doRequest(s, "DELETE", "/api/sessions/sess-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleUpdateNotes(t *testing.T) {
	fakeStore := &fakeSessionStore{sessions: []session.Summary{{ID: "sess-1"}}}
	s := newTestServer(t, &fakeEngine{}, fakeStore, &fakeDevices{})

	w := doRequest(s, "PUT", "/api/sessions/sess-1/notes", map[string]string{"notes": "turno de tarde"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "turno de tarde", fakeStore.sessions[0].Notes)

	// clearing notes is a valid update
	w = doRequest(s, "PUT", "/api/sessions/sess-1/notes", map[string]string{"notes": ""})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", fakeStore.sessions[0].Notes)

	w = doRequest(s, "PUT", "/api/sessions/nope/notes", map[string]string{"notes": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(s, "PUT", "/api/sessions/sess-1/notes", map[string]int{"other": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTodayStats(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "GET", "/api/stats/today", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp store.TodayStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3.5, resp.AvgCount)
	assert.Equal(t, 8, resp.MaxCount)
	assert.Equal(t, 40, resp.TotalSamples)
}

func TestHandleWeeklyHeatmap(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "GET", "/api/stats/heatmap", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Heatmap []store.HeatmapCell `json:"heatmap"`
		Count   int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, 1, resp.Heatmap[0].Day)
	assert.Equal(t, 9, resp.Heatmap[0].Hour)
	assert.Equal(t, 4.2, resp.Heatmap[0].AvgCount)
}

func TestHandleExportSession(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.Local)
	store := &fakeSessionStore{sessions: []session.Summary{{
		ID:        "sess-1",
		StartTime: start,
		ChartData: []session.Sample{{Count: 3, Timestamp: start}},
	}}}
	s := newTestServer(t, &fakeEngine{}, store, &fakeDevices{})

	w := doRequest(s, "GET", "/api/sessions/sess-1/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "sesion_2025-03-10_14-00-00.csv")
	assert.Contains(t, w.Body.String(), "Hora,Personas,Tipo,Mensaje")
	assert.Contains(t, w.Body.String(), "14:00:00,3,data,")

	w = doRequest(s, "GET", "/api/sessions/nope/export", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPINotFound(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "GET", "/api/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestDashboardServedOnRoot(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "GET", "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, &fakeSessionStore{}, &fakeDevices{})

	w := doRequest(s, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "counter_")
}
