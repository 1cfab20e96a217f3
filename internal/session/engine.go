package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/numia-vision/edge-counter/internal/logger"
	"github.com/numia-vision/edge-counter/internal/metrics"
	"github.com/numia-vision/edge-counter/internal/service"
)

// ErrNoActiveSession is returned by operations that need a running session
var ErrNoActiveSession = errors.New("no active session")

// FrameSource provides JPEG snapshots from the selected camera
type FrameSource interface {
	Start(ctx context.Context) error
	Stop()
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// SourceProvider acquires a frame source for a device id. An empty device id
// selects the configured default.
type SourceProvider func(deviceID string) (FrameSource, error)

// Sender submits captured frames to the detection service
type Sender interface {
	SendFrame(jpeg []byte)
	IsConnected() bool
}

// Store persists finalized session summaries
type Store interface {
	Persist(summary Summary) error
}

// SnapshotHandler receives a projection of engine state after every mutation
type SnapshotHandler func(Snapshot)

// Engine is the session aggregation engine: a two-state machine (idle,
// active) whose mutations all run on one goroutine. Observations, start/stop
// commands and configuration changes are triggers processed to completion in
// arrival order.
type Engine struct {
	*service.ServiceBase
	cfg      Config
	interval time.Duration // capture cadence while active
	logger   *logger.Logger
	metrics  *metrics.Metrics

	provider SourceProvider
	sender   Sender
	store    Store

	commands chan command
	obs      chan Observation
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	onSnapshot SnapshotHandler

	mu            sync.Mutex
	capacityLimit int // applies to the next and current session

	// loop-owned, never touched outside run()
	active bool
	state  State
	source FrameSource
}

// EngineConfig wires the engine's collaborators
type EngineConfig struct {
	Reducer         Config
	CaptureInterval time.Duration
	Provider        SourceProvider
	Sender          Sender
	Store           Store
	Metrics         *metrics.Metrics
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdSetCapacity
	cmdDismissAlert
	cmdSnapshot
)

type command struct {
	kind     commandKind
	deviceID string
	capacity int
	reply    chan commandResult
}

type commandResult struct {
	err      error
	summary  *Summary
	snapshot Snapshot
}

// NewEngine creates the aggregation engine
func NewEngine(cfg EngineConfig, log *logger.Logger) *Engine {
	reducer := cfg.Reducer
	if reducer.EventCooldown == 0 && reducer.MaxEvents == 0 {
		reducer = DefaultConfig()
	}
	interval := cfg.CaptureInterval
	if interval == 0 {
		interval = 400 * time.Millisecond
	}

	return &Engine{
		ServiceBase:   service.NewServiceBase("session-engine", log),
		cfg:           reducer,
		interval:      interval,
		logger:        log,
		metrics:       cfg.Metrics,
		provider:      cfg.Provider,
		sender:        cfg.Sender,
		store:         cfg.Store,
		commands:      make(chan command),
		obs:           make(chan Observation, 64),
		done:          make(chan struct{}),
		capacityLimit: reducer.CapacityLimit,
	}
}

// OnSnapshot registers the handler invoked after every state mutation.
// Must be called before Start.
func (e *Engine) OnSnapshot(fn SnapshotHandler) {
	e.onSnapshot = fn
}

// Start launches the engine loop
func (e *Engine) Start(ctx context.Context) error {
	e.GetStatus().SetStatus(service.StatusStarting)
	e.ctx, e.cancel = context.WithCancel(ctx)
	go e.run()
	e.GetStatus().SetStatus(service.StatusRunning)
	e.LogInfo("Session engine started")
	return nil
}

// Stop finalizes any active session and stops the loop. Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.GetStatus().SetStatus(service.StatusStopping)

	// finalize a running session before tearing the loop down
	_, _ = e.StopSession()

	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
	}
	e.GetStatus().SetStatus(service.StatusStopped)
	e.LogInfo("Session engine stopped")
	return nil
}

// Observe delivers one observation to the engine. Non-blocking: if the loop
// is saturated the observation is dropped, consistent with fire-and-forget
// delivery.
func (e *Engine) Observe(obs Observation) {
	select {
	case e.obs <- obs:
	default:
		e.LogDebug("Observation dropped, engine saturated")
	}
}

// StartSession starts a session on the given device. Starting while a
// session is active is a deterministic no-op. Device acquisition failure is
// reported to the caller and no session state is created.
func (e *Engine) StartSession(deviceID string) error {
	res, err := e.send(command{kind: cmdStart, deviceID: deviceID})
	if err != nil {
		return err
	}
	return res.err
}

// StopSession finalizes the active session, persists its summary and returns
// it. Stopping while idle is a no-op returning nil.
func (e *Engine) StopSession() (*Summary, error) {
	res, err := e.send(command{kind: cmdStop})
	if err != nil {
		return nil, err
	}
	return res.summary, res.err
}

// SetCapacityLimit adjusts the capacity threshold for the current and
// subsequent sessions. The value is clamped to the valid range by the caller.
func (e *Engine) SetCapacityLimit(limit int) {
	e.mu.Lock()
	e.capacityLimit = limit
	e.mu.Unlock()
	_, _ = e.send(command{kind: cmdSetCapacity, capacity: limit})
}

// CapacityLimit returns the configured capacity threshold
func (e *Engine) CapacityLimit() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capacityLimit
}

// DismissCapacityAlert suppresses further capacity alerts for the current
// session. Reset by starting a new session.
func (e *Engine) DismissCapacityAlert() {
	_, _ = e.send(command{kind: cmdDismissAlert})
}

// Snapshot returns the current projection of engine state
func (e *Engine) Snapshot() Snapshot {
	res, err := e.send(command{kind: cmdSnapshot})
	if err != nil {
		return Snapshot{}
	}
	return res.snapshot
}

// send delivers a command to the loop and waits for its reply
func (e *Engine) send(cmd command) (commandResult, error) {
	if e.ctx == nil {
		return commandResult{}, errors.New("engine not started")
	}
	cmd.reply = make(chan commandResult, 1)
	select {
	case e.commands <- cmd:
	case <-e.ctx.Done():
		return commandResult{}, e.ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res, nil
	case <-e.ctx.Done():
		return commandResult{}, e.ctx.Err()
	}
}

// run is the single goroutine owning all session state. Each trigger is
// processed to completion before the next one.
func (e *Engine) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	ticker.Stop() // armed only while a session is active
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			e.releaseSource()
			return

		case cmd := <-e.commands:
			cmd.reply <- e.handleCommand(cmd, ticker)

		case obs := <-e.obs:
			e.handleObservation(obs)

		case <-ticker.C:
			e.captureTick()
		}
	}
}

func (e *Engine) handleCommand(cmd command, ticker *time.Ticker) commandResult {
	switch cmd.kind {
	case cmdStart:
		return commandResult{err: e.startSession(cmd.deviceID, ticker)}

	case cmdStop:
		return commandResult{summary: e.stopSession(ticker)}

	case cmdSetCapacity:
		if e.active {
			e.state.CapacityLimit = cmd.capacity
			e.publishSnapshot()
		}
		return commandResult{}

	case cmdDismissAlert:
		if e.active {
			e.state.CapacityDismissed = true
			e.publishSnapshot()
		}
		return commandResult{}

	case cmdSnapshot:
		return commandResult{snapshot: e.snapshot()}
	}
	return commandResult{}
}

// startSession acquires the device and creates fresh session state. A start
// while active is a no-op by design.
func (e *Engine) startSession(deviceID string, ticker *time.Ticker) error {
	if e.active {
		e.LogWarn("Start ignored, session already active")
		return nil
	}

	source, err := e.provider(deviceID)
	if err != nil {
		return err
	}
	if err := source.Start(e.ctx); err != nil {
		return err
	}

	e.source = source
	e.state = NewState(e.CapacityLimit(), time.Now())
	e.active = true
	ticker.Reset(e.interval)

	e.PublishEvent(service.EventTypeSessionStarted, map[string]interface{}{
		"session_id": e.state.ID,
		"device_id":  deviceID,
	})
	e.LogInfo("Session started", "session_id", e.state.ID, "device_id", deviceID)
	e.publishSnapshot()
	return nil
}

// stopSession finalizes and persists the active session; idle stop is a no-op
func (e *Engine) stopSession(ticker *time.Ticker) *Summary {
	if !e.active {
		return nil
	}

	ticker.Stop()
	e.releaseSource()

	summary := Finalize(e.state, time.Now(), e.cfg)
	e.active = false
	e.state = State{}

	if e.store != nil {
		if err := e.store.Persist(summary); err != nil {
			// degraded, not fatal: the summary stays available in memory
			e.LogWarn("Failed to persist session summary", "session_id", summary.ID, "error", err)
		}
	}
	e.metrics.SessionCompleted()

	e.PublishEvent(service.EventTypeSessionCompleted, map[string]interface{}{
		"session_id":     summary.ID,
		"max_persons":    summary.MaxPersons,
		"total_entradas": summary.TotalEntradas,
		"total_salidas":  summary.TotalSalidas,
	})
	e.LogInfo("Session completed",
		"session_id", summary.ID,
		"observations", len(summary.ChartData),
		"entradas", summary.TotalEntradas,
		"salidas", summary.TotalSalidas,
	)
	e.publishSnapshot()
	return &summary
}

// handleObservation folds one observation into the session; observations
// arriving while idle are dropped
func (e *Engine) handleObservation(obs Observation) {
	if !e.active {
		return
	}
	if obs.Count < 0 {
		// malformed observations are dropped with no partial mutation
		return
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}

	next, emitted := Reduce(e.state, obs, e.cfg)
	e.state = next
	e.metrics.ObservationProcessed()
	for range emitted {
		e.metrics.EventEmitted()
	}
	e.publishSnapshot()
}

// captureTick grabs a frame and fire-and-forgets it to the detection
// service. A disconnected channel or missing stream is a silent no-op; the
// tick never blocks the loop.
func (e *Engine) captureTick() {
	if !e.active || e.source == nil {
		return
	}
	if e.sender == nil || !e.sender.IsConnected() {
		return
	}

	source := e.source
	sender := e.sender
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.interval)
		defer cancel()

		jpeg, err := source.CaptureFrame(ctx)
		if err != nil || len(jpeg) == 0 {
			e.metrics.CaptureError()
			return
		}
		e.metrics.FrameCaptured()
		sender.SendFrame(jpeg)
		e.metrics.FrameSent()
	}()
}

func (e *Engine) releaseSource() {
	if e.source != nil {
		e.source.Stop()
		e.source = nil
	}
}

// snapshot projects the loop-owned state for the presentation layer
func (e *Engine) snapshot() Snapshot {
	snap := Snapshot{
		Active:        e.active,
		CapacityLimit: e.CapacityLimit(),
	}
	if e.sender != nil {
		snap.Connected = e.sender.IsConnected()
	}
	if !e.active {
		return snap
	}

	s := e.state
	snap.SessionID = s.ID
	snap.StartTime = s.StartTime
	snap.CurrentCount = s.CurrentCount
	snap.Frame = s.LatestFrame
	snap.ChartData = lastSamples(s.ChartData, e.cfg.ChartWindow)
	snap.Events = s.Events
	snap.Stats = s.Stats
	snap.Trend = s.Trend
	snap.AvgTimeBetween = s.AvgTimeBetween()
	snap.CapacityLimit = s.CapacityLimit
	snap.CapacityDismissed = s.CapacityDismissed
	return snap
}

func (e *Engine) publishSnapshot() {
	if e.onSnapshot != nil {
		e.onSnapshot(e.snapshot())
	}
}
