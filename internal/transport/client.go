package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/numia-vision/edge-counter/internal/logger"
	"github.com/numia-vision/edge-counter/internal/service"
)

// State represents the connection state of the transport channel
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// ObservationHandler receives every parsed detection message in arrival order
type ObservationHandler func(Observation)

// Client maintains a persistent websocket connection to the detection
// service. On disconnect it retries after a fixed backoff interval, forever,
// until Stop tears it down.
type Client struct {
	*service.ServiceBase
	url               string
	reconnectInterval time.Duration
	handshakeTimeout  time.Duration
	pingInterval      time.Duration
	logger            *logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	state   State

	handler     ObservationHandler
	onState     func(State)
	onMalformed func()
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	startedOnce sync.Once
	stoppedOnce sync.Once
}

// ClientConfig contains transport client configuration
type ClientConfig struct {
	URL               string
	ReconnectInterval time.Duration
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration
}

// NewClient creates a new detection service client
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 3 * time.Second
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}

	return &Client{
		ServiceBase:       service.NewServiceBase("detector-transport", log),
		url:               cfg.URL,
		reconnectInterval: cfg.ReconnectInterval,
		handshakeTimeout:  cfg.HandshakeTimeout,
		pingInterval:      cfg.PingInterval,
		logger:            log,
		state:             StateDisconnected,
		done:              make(chan struct{}),
	}
}

// OnObservation registers the handler invoked for every parsed detection
// message. Must be called before Start.
func (c *Client) OnObservation(handler ObservationHandler) {
	c.handler = handler
}

// OnStateChange registers a callback invoked on every connection state
// transition. Must be called before Start.
func (c *Client) OnStateChange(fn func(State)) {
	c.onState = fn
}

// OnMalformed registers a callback invoked whenever an inbound message is
// dropped as malformed. Must be called before Start.
func (c *Client) OnMalformed(fn func()) {
	c.onMalformed = fn
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the channel is currently connected
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Start launches the supervised connection loop
func (c *Client) Start(ctx context.Context) error {
	c.startedOnce.Do(func() {
		c.ctx, c.cancel = context.WithCancel(ctx)
		c.GetStatus().SetStatus(service.StatusStarting)
		go c.run()
		c.GetStatus().SetStatus(service.StatusRunning)
		c.LogInfo("Transport client started", "url", c.url)
	})
	return nil
}

// Stop tears the channel down: cancels any pending reconnect and closes the
// active connection. Safe to call multiple times.
func (c *Client) Stop(ctx context.Context) error {
	c.stoppedOnce.Do(func() {
		c.GetStatus().SetStatus(service.StatusStopping)
		if c.cancel != nil {
			c.cancel()
		}
		c.closeConn()
		if c.ctx != nil {
			select {
			case <-c.done:
			case <-ctx.Done():
			}
		}
		c.GetStatus().SetStatus(service.StatusStopped)
		c.LogInfo("Transport client stopped")
	})
	return nil
}

// Send transmits a structured message while connected; a no-op otherwise.
// Messages are never queued during a disconnect.
func (c *Client) Send(msg interface{}) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.LogWarn("Dropping unmarshalable outbound message", "error", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.LogDebug("Write failed, message dropped", "error", err)
	}
}

// SendFrame submits a captured JPEG frame for detection, fire-and-forget
func (c *Client) SendFrame(jpeg []byte) {
	if len(jpeg) == 0 {
		return
	}
	c.Send(encodeFrame(jpeg))
}

// run drives the Disconnected -> Connecting -> Connected state machine,
// retrying with a fixed delay for the lifetime of the client context
func (c *Client) run() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			c.setState(StateDisconnected)
			return
		default:
		}

		c.setState(StateConnecting)
		conn, err := c.dial()
		if err != nil {
			c.setState(StateDisconnected)
			c.LogDebug("Connection attempt failed", "url", c.url, "error", err)
			select {
			case <-time.After(c.reconnectInterval):
				continue
			case <-c.ctx.Done():
				return
			}
		}

		c.mu.Lock()
		c.conn = conn
		c.state = StateConnected
		c.mu.Unlock()
		c.notifyState(StateConnected)
		c.PublishEvent(service.EventTypeTransportConnected, map[string]interface{}{"url": c.url})
		c.LogInfo("Connected to detection service", "url", c.url)

		pingDone := make(chan struct{})
		go c.pingLoop(conn, pingDone)

		c.readLoop(conn)
		close(pingDone)

		c.closeConn()
		c.setState(StateDisconnected)
		c.PublishEvent(service.EventTypeTransportDisconnected, map[string]interface{}{"url": c.url})

		select {
		case <-time.After(c.reconnectInterval):
		case <-c.ctx.Done():
			return
		}
	}
}

// dial establishes a single websocket connection
func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, _, err := dialer.DialContext(c.ctx, c.url, nil)
	return conn, err
}

// readLoop consumes inbound messages until the connection fails. Malformed
// messages and foreign types are dropped without surfacing an error.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.LogDebug("Read failed", "error", err)
			}
			return
		}

		receivedAt := time.Now()

		var msg detectionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.LogDebug("Dropping malformed message", "error", err)
			c.notifyMalformed()
			continue
		}

		switch msg.Type {
		case MessageTypeDetection:
			obs, err := msg.toObservation(receivedAt)
			if err != nil {
				c.LogDebug("Dropping invalid detection message", "error", err)
				c.notifyMalformed()
				continue
			}
			c.PublishEvent(service.EventTypeDetectionReceived, map[string]interface{}{"count": obs.Count})
			if c.handler != nil {
				c.handler(obs)
			}
		case MessageTypePong:
			// keepalive reply, nothing to do
		default:
			// any message with a different type is ignored
		}
	}
}

// pingLoop sends application-level pings while the connection is up
func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Send(controlMessage{Type: MessageTypePing})
		case <-done:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// closeConn closes the active connection if present; idempotent
func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// setState updates the state and notifies on change
func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed {
		c.notifyState(s)
	}
}

func (c *Client) notifyState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Client) notifyMalformed() {
	if c.onMalformed != nil {
		c.onMalformed()
	}
}
