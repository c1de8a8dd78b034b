// Package ws manages the live session connection: dialing, the reconnect
// cycle with linearly growing delays, the heartbeat probe, and delivery of
// inbound frames to the rest of the client.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	platformerrors "github.com/bykotofff/dnd-game-sub001/internal/platform/errors"
	"github.com/bykotofff/dnd-game-sub001/internal/wire"
)

const (
	defaultHeartbeatInterval    = 30 * time.Second
	defaultReconnectInterval    = 3 * time.Second
	defaultMaxReconnectAttempts = 5

	// A connection that keeps producing undecodable frames is torn down
	// after this many decode failures and re-established from scratch.
	maxDecodeErrorsPerConn = 3

	eventBufferSize = 64
)

// EventKind discriminates client notifications.
type EventKind int

const (
	// EventStateChanged reports a lifecycle transition.
	EventStateChanged EventKind = iota
	// EventFrame carries one inbound frame.
	EventFrame
	// EventProtocolError reports a frame that could not be decoded.
	EventProtocolError
)

// Event is one notification from the connection client.
type Event struct {
	Kind  EventKind
	State State
	Frame wire.Frame
	Err   error
}

// Config carries the connection client settings.
type Config struct {
	// BaseURL is the websocket root, e.g. wss://host/ws.
	BaseURL string
	// Token is the bearer token carried on the dial URL.
	Token string

	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int

	// Dial overrides the websocket dialer. Nil means DialWebsocket.
	Dial Dialer
	// Clock overrides time.Now.
	Clock func() time.Time
}

// Client owns the session connection lifecycle. All exported methods are
// safe for concurrent use.
type Client struct {
	cfg Config

	mu         sync.Mutex
	state      State
	sessionID  string
	conn       FrameConn
	attempt    int
	gen        int
	lastPongAt time.Time
	retryTimer *time.Timer
	stopPing   chan struct{}
	dropped    int
	closed     bool

	events chan Event
}

// NewClient creates a disconnected client. Zero config durations and counts
// fall back to the protocol defaults.
func NewClient(cfg Config) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.Dial == nil {
		cfg.Dial = DialWebsocket
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Client{
		cfg:    cfg,
		state:  StateDisconnected,
		events: make(chan Event, eventBufferSize),
	}
}

// Events is the client's notification stream. Consumers must drain it;
// notifications that find the buffer full are dropped rather than
// blocking the reader, and DroppedEvents counts them.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session the client is attached to, or empty.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// DroppedEvents reports how many notifications were discarded because the
// event buffer was full. A non-zero count means the consumer fell behind
// and the stream has gaps.
func (c *Client) DroppedEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// LastPongAt returns when the server last answered a heartbeat probe.
func (c *Client) LastPongAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPongAt
}

// Connect attaches the client to a session and starts dialing. Connecting
// to the session it is already attached to is a no-op; a different session
// tears the current connection down first.
func (c *Client) Connect(sessionID string) error {
	if sessionID == "" {
		return platformerrors.New(platformerrors.CodeSessionJoinFailed, "session id is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return platformerrors.New(platformerrors.CodeNotConnected, "client is closed")
	}
	if c.cfg.Token == "" {
		c.setStateLocked(StateError)
		c.mu.Unlock()
		return platformerrors.New(platformerrors.CodeAuthMissing, "authentication token is required")
	}
	if c.sessionID == sessionID {
		switch c.state {
		case StateConnected, StateConnecting, StateReconnecting:
			c.mu.Unlock()
			return nil
		}
	}
	c.teardownLocked()
	c.sessionID = sessionID
	c.attempt = 0
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	go c.dial(gen)
	return nil
}

// Disconnect deliberately drops the connection and cancels any pending
// reconnect. It is safe to call in any state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.teardownLocked()
	c.sessionID = ""
	if c.state != StateDisconnected {
		c.setStateLocked(StateDisconnected)
	}
}

// Close disconnects and closes the event stream. The client cannot be
// reused afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.teardownLocked()
	c.sessionID = ""
	if c.state != StateDisconnected {
		c.setStateLocked(StateDisconnected)
	}
	c.closed = true
	c.mu.Unlock()
	close(c.events)
}

// Send writes one frame to the live connection.
func (c *Client) Send(frame wire.Frame) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return platformerrors.WithMetadata(platformerrors.CodeNotConnected,
			"no live session connection",
			map[string]string{"state": state.String()})
	}
	if err := conn.WriteFrame(frame); err != nil {
		return platformerrors.Wrap(platformerrors.CodeTransportFailure, "write frame", err)
	}
	return nil
}

func (c *Client) dial(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	wsURL := SessionURL(c.cfg.BaseURL, c.sessionID, c.cfg.Token)
	c.mu.Unlock()

	conn, err := c.cfg.Dial(context.Background(), wsURL)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		if c.attempt == 0 {
			// Nothing to fall back to on the first dial.
			c.setStateLocked(StateError)
			c.mu.Unlock()
			return
		}
		c.scheduleReconnectLocked(gen)
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.attempt = 0
	c.setStateLocked(StateConnected)
	stop := make(chan struct{})
	c.stopPing = stop
	sessionID := c.sessionID
	c.mu.Unlock()

	go c.readLoop(gen, conn)
	go c.heartbeat(gen, sessionID, stop)
}

func (c *Client) readLoop(gen int, conn FrameConn) {
	decodeErrors := 0
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if isDecodeError(err) {
				decodeErrors++
				c.emit(Event{Kind: EventProtocolError, Err: err})
				if decodeErrors < maxDecodeErrorsPerConn {
					continue
				}
				err = fmt.Errorf("too many undecodable frames: %w", err)
			}
			c.connectionLost(gen, err)
			return
		}

		if frame.Type == wire.TypePong {
			c.mu.Lock()
			if gen == c.gen {
				c.lastPongAt = c.cfg.Clock().UTC()
			}
			c.mu.Unlock()
			continue
		}
		c.emit(Event{Kind: EventFrame, Frame: frame})
	}
}

func (c *Client) heartbeat(gen int, sessionID string, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			live := gen == c.gen && c.state == StateConnected
			c.mu.Unlock()
			if !live || conn == nil {
				return
			}
			frame, err := wire.EncodePing(sessionID, c.cfg.Clock())
			if err != nil {
				continue
			}
			// A write failure here surfaces through the read loop.
			_ = conn.WriteFrame(frame)
		}
	}
}

func (c *Client) connectionLost(gen int, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	log.Printf("session connection lost: %v", cause)
	c.closeConnLocked()
	c.scheduleReconnectLocked(gen)
}

// scheduleReconnectLocked advances the attempt counter and either arms the
// retry timer or gives up. Callers hold c.mu.
func (c *Client) scheduleReconnectLocked(gen int) {
	c.attempt++
	if c.attempt > c.cfg.MaxReconnectAttempts {
		c.state = StateError
		c.emitLocked(Event{Kind: EventStateChanged, State: StateError,
			Err: platformerrors.WithMetadata(platformerrors.CodeReconnectExhausted,
				"reconnect attempts exhausted",
				map[string]string{"attempts": strconv.Itoa(c.cfg.MaxReconnectAttempts)})})
		return
	}
	c.setStateLocked(StateReconnecting)
	delay := time.Duration(c.attempt) * c.cfg.ReconnectInterval
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()
		c.dial(gen)
	})
}

// teardownLocked cancels timers and drops the connection without touching
// the lifecycle state. Callers hold c.mu.
func (c *Client) teardownLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.closeConnLocked()
}

func (c *Client) closeConnLocked() {
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) setStateLocked(next State) {
	if c.state == next {
		return
	}
	c.state = next
	c.emitLocked(Event{Kind: EventStateChanged, State: next})
}

func (c *Client) emit(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(evt)
}

func (c *Client) emitLocked(evt Event) {
	if c.closed {
		return
	}
	select {
	case c.events <- evt:
	default:
		c.dropped++
		log.Printf("dropping connection event, buffer full: kind=%d dropped=%d", evt.Kind, c.dropped)
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
