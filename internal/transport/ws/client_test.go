package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	platformerrors "github.com/bykotofff/dnd-game-sub001/internal/platform/errors"
	"github.com/bykotofff/dnd-game-sub001/internal/wire"
)

type fakeConn struct {
	reads chan readResult

	mu     sync.Mutex
	writes []wire.Frame
	closed bool
}

type readResult struct {
	frame wire.Frame
	err   error
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 16)}
}

func (c *fakeConn) ReadFrame() (wire.Frame, error) {
	result, ok := <-c.reads
	if !ok {
		return wire.Frame{}, io.EOF
	}
	return result.frame, result.err
}

func (c *fakeConn) WriteFrame(frame wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.writes = append(c.writes, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func (c *fakeConn) writtenTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, len(c.writes))
	for i, frame := range c.writes {
		types[i] = frame.Type
	}
	return types
}

func (c *fakeConn) failRead(err error) {
	c.reads <- readResult{err: err}
}

func (c *fakeConn) pushFrame(frame wire.Frame) {
	c.reads <- readResult{frame: frame}
}

// fakeDialer hands out scripted outcomes in order and records dial URLs.
type fakeDialer struct {
	mu       sync.Mutex
	outcomes []dialOutcome
	urls     []string
}

type dialOutcome struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) dial(_ context.Context, wsURL string) (FrameConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, wsURL)
	if len(d.outcomes) == 0 {
		return nil, errors.New("unscripted dial")
	}
	outcome := d.outcomes[0]
	d.outcomes = d.outcomes[1:]
	if outcome.err != nil {
		return nil, outcome.err
	}
	return outcome.conn, nil
}

func (d *fakeDialer) script(outcomes ...dialOutcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes = append(d.outcomes, outcomes...)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func testClient(t *testing.T, dialer *fakeDialer) *Client {
	t.Helper()
	client := NewClient(Config{
		BaseURL:              "ws://game.test/ws",
		Token:                "token-1",
		HeartbeatInterval:    10 * time.Millisecond,
		ReconnectInterval:    5 * time.Millisecond,
		MaxReconnectAttempts: 3,
		Dial:                 dialer.dial,
	})
	t.Cleanup(client.Close)
	return client
}

func waitForState(t *testing.T, client *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if client.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", client.State(), want)
}

func drainUntilFrame(t *testing.T, client *Client) wire.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-client.Events():
			if evt.Kind == EventFrame {
				return evt.Frame
			}
		case <-deadline:
			t.Fatal("no frame event received")
		}
	}
}

func TestConnectSuccess(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.script(dialOutcome{conn: newFakeConn()})
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)

	if client.SessionID() != "sess-1" {
		t.Fatalf("session id = %q", client.SessionID())
	}
	dialer.mu.Lock()
	dialURL := dialer.urls[0]
	dialer.mu.Unlock()
	want := "ws://game.test/ws/session/sess-1?token=token-1"
	if dialURL != want {
		t.Fatalf("dial url = %q, want %q", dialURL, want)
	}
}

func TestConnectWithoutToken(t *testing.T) {
	dialer := &fakeDialer{}
	client := NewClient(Config{BaseURL: "ws://game.test/ws", Dial: dialer.dial})
	t.Cleanup(client.Close)

	err := client.Connect("sess-1")
	if platformerrors.CodeOf(err) != platformerrors.CodeAuthMissing {
		t.Fatalf("error code = %v, want auth missing", platformerrors.CodeOf(err))
	}
	if client.State() != StateError {
		t.Fatalf("state = %v, want error", client.State())
	}
	if dialer.dialCount() != 0 {
		t.Fatalf("dial count = %d, want 0", dialer.dialCount())
	}
}

func TestConnectIdempotentForSameSession(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.script(dialOutcome{conn: newFakeConn()})
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)
	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if dialer.dialCount() != 1 {
		t.Fatalf("dial count = %d, want 1", dialer.dialCount())
	}
}

func TestConnectDifferentSessionTearsDown(t *testing.T) {
	dialer := &fakeDialer{}
	firstConn := newFakeConn()
	dialer.script(dialOutcome{conn: firstConn}, dialOutcome{conn: newFakeConn()})
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)
	if err := client.Connect("sess-2"); err != nil {
		t.Fatalf("connect to second session: %v", err)
	}
	waitForState(t, client, StateConnected)

	firstConn.mu.Lock()
	firstClosed := firstConn.closed
	firstConn.mu.Unlock()
	if !firstClosed {
		t.Fatal("first connection must be closed")
	}
	if client.SessionID() != "sess-2" {
		t.Fatalf("session id = %q, want sess-2", client.SessionID())
	}
	if dialer.dialCount() != 2 {
		t.Fatalf("dial count = %d, want 2", dialer.dialCount())
	}
}

func TestInitialDialFailure(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.script(dialOutcome{err: errors.New("refused")})
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateError)
	if dialer.dialCount() != 1 {
		t.Fatalf("dial count = %d, want 1 (no retry on initial dial)", dialer.dialCount())
	}
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	dialer := &fakeDialer{}
	firstConn := newFakeConn()
	dialer.script(
		dialOutcome{conn: firstConn},
		dialOutcome{err: errors.New("still down")},
		dialOutcome{conn: newFakeConn()},
	)
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)

	firstConn.failRead(io.EOF)
	waitForState(t, client, StateConnected)

	deadline := time.Now().Add(2 * time.Second)
	for dialer.dialCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if dialer.dialCount() != 3 {
		t.Fatalf("dial count = %d, want 3", dialer.dialCount())
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	firstConn := newFakeConn()
	dialer.script(
		dialOutcome{conn: firstConn},
		dialOutcome{err: errors.New("down")},
		dialOutcome{err: errors.New("down")},
		dialOutcome{err: errors.New("down")},
	)
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)

	firstConn.failRead(io.EOF)
	waitForState(t, client, StateError)

	// The failed connection plus three failed redials exhausts the budget.
	time.Sleep(50 * time.Millisecond)
	if dialer.dialCount() != 4 {
		t.Fatalf("dial count = %d, want 4 (no dials after giving up)", dialer.dialCount())
	}
}

func TestRetryDialReportsConnecting(t *testing.T) {
	dialer := &fakeDialer{}
	firstConn := newFakeConn()
	dialer.script(dialOutcome{conn: firstConn}, dialOutcome{conn: newFakeConn()})
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)
	firstConn.failRead(io.EOF)
	waitForState(t, client, StateConnected)

	var states []State
	for drained := false; !drained; {
		select {
		case evt := <-client.Events():
			if evt.Kind == EventStateChanged {
				states = append(states, evt.State)
			}
		default:
			drained = true
		}
	}
	for i, state := range states {
		if state == StateReconnecting && i+1 < len(states) && states[i+1] == StateConnecting {
			return
		}
	}
	t.Fatalf("states = %v, want reconnecting followed by connecting", states)
}

func TestDroppedEventsAreCounted(t *testing.T) {
	client := testClient(t, &fakeDialer{})

	for i := 0; i < eventBufferSize+3; i++ {
		client.emit(Event{Kind: EventFrame})
	}
	if got := client.DroppedEvents(); got != 3 {
		t.Fatalf("dropped events = %d, want 3", got)
	}
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	firstConn := newFakeConn()
	dialer.script(dialOutcome{conn: firstConn})
	// Long retry delay so Disconnect lands before the timer fires.
	client := NewClient(Config{
		BaseURL:           "ws://game.test/ws",
		Token:             "token-1",
		ReconnectInterval: time.Minute,
		Dial:              dialer.dial,
	})
	t.Cleanup(client.Close)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)

	firstConn.failRead(io.EOF)
	waitForState(t, client, StateReconnecting)
	client.Disconnect()
	waitForState(t, client, StateDisconnected)

	time.Sleep(50 * time.Millisecond)
	if dialer.dialCount() != 1 {
		t.Fatalf("dial count = %d, want 1 (reconnect cancelled)", dialer.dialCount())
	}
	if client.SessionID() != "" {
		t.Fatalf("session id = %q, want empty after disconnect", client.SessionID())
	}
}

func TestDisconnectDuringConnecting(t *testing.T) {
	release := make(chan struct{})
	conn := newFakeConn()
	var dialCount int
	var mu sync.Mutex
	dial := func(_ context.Context, _ string) (FrameConn, error) {
		mu.Lock()
		dialCount++
		mu.Unlock()
		<-release
		return conn, nil
	}
	client := NewClient(Config{BaseURL: "ws://game.test/ws", Token: "token-1", Dial: dial})
	t.Cleanup(client.Close)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnecting)
	client.Disconnect()
	close(release)

	// The late dial resolution must not resurrect the connection.
	time.Sleep(50 * time.Millisecond)
	if client.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", client.State())
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatal("stale dial result must be closed")
	}
	mu.Lock()
	defer mu.Unlock()
	if dialCount != 1 {
		t.Fatalf("dial count = %d, want 1", dialCount)
	}
}

func TestReconnectExhaustedCarriesError(t *testing.T) {
	dialer := &fakeDialer{}
	firstConn := newFakeConn()
	dialer.script(
		dialOutcome{conn: firstConn},
		dialOutcome{err: errors.New("down")},
		dialOutcome{err: errors.New("down")},
		dialOutcome{err: errors.New("down")},
	)
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)
	firstConn.failRead(io.EOF)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-client.Events():
			if evt.Kind == EventStateChanged && evt.State == StateError {
				if platformerrors.CodeOf(evt.Err) != platformerrors.CodeReconnectExhausted {
					t.Fatalf("error code = %v, want reconnect exhausted", platformerrors.CodeOf(evt.Err))
				}
				return
			}
		case <-deadline:
			t.Fatal("no error state event received")
		}
	}
}

func TestSendWhenNotConnected(t *testing.T) {
	client := testClient(t, &fakeDialer{})

	frame, err := wire.EncodeChat("sess-1", "hello", time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	err = client.Send(frame)
	if platformerrors.CodeOf(err) != platformerrors.CodeNotConnected {
		t.Fatalf("error code = %v, want not connected", platformerrors.CodeOf(err))
	}
}

func TestSendWritesToConnection(t *testing.T) {
	dialer := &fakeDialer{}
	conn := newFakeConn()
	dialer.script(dialOutcome{conn: conn})
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)

	frame, err := wire.EncodeAction("sess-1", "opens the chest", time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := client.Send(frame); err != nil {
		t.Fatalf("send: %v", err)
	}
	types := conn.writtenTypes()
	found := false
	for _, frameType := range types {
		if frameType == wire.TypeAction {
			found = true
		}
	}
	if !found {
		t.Fatalf("written frame types = %v, want action among them", types)
	}
}

func TestHeartbeatSendsPings(t *testing.T) {
	dialer := &fakeDialer{}
	conn := newFakeConn()
	dialer.script(dialOutcome{conn: conn})
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, frameType := range conn.writtenTypes() {
			if frameType == wire.TypePing {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no ping frame written")
}

func TestPongUpdatesLastPongAt(t *testing.T) {
	dialer := &fakeDialer{}
	conn := newFakeConn()
	dialer.script(dialOutcome{conn: conn})
	pongAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	client := NewClient(Config{
		BaseURL:           "ws://game.test/ws",
		Token:             "token-1",
		HeartbeatInterval: time.Hour,
		Dial:              dialer.dial,
		Clock:             func() time.Time { return pongAt },
	})
	t.Cleanup(client.Close)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)

	conn.pushFrame(wire.Frame{Type: wire.TypePong})
	deadline := time.Now().Add(2 * time.Second)
	for client.LastPongAt().IsZero() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !client.LastPongAt().Equal(pongAt) {
		t.Fatalf("last pong at = %v, want %v", client.LastPongAt(), pongAt)
	}
}

func TestInboundFramesAreDelivered(t *testing.T) {
	dialer := &fakeDialer{}
	conn := newFakeConn()
	dialer.script(dialOutcome{conn: conn})
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)

	conn.pushFrame(wire.Frame{Type: wire.TypeChat, Data: json.RawMessage(`{"content":"hi"}`)})
	frame := drainUntilFrame(t, client)
	if frame.Type != wire.TypeChat {
		t.Fatalf("frame type = %q, want chat", frame.Type)
	}
}

func TestRepeatedDecodeErrorsDropConnection(t *testing.T) {
	dialer := &fakeDialer{}
	firstConn := newFakeConn()
	dialer.script(dialOutcome{conn: firstConn}, dialOutcome{conn: newFakeConn()})
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)

	decodeErr := &json.SyntaxError{Offset: 1}
	firstConn.failRead(decodeErr)
	firstConn.failRead(decodeErr)
	firstConn.failRead(decodeErr)

	deadline := time.Now().Add(2 * time.Second)
	for dialer.dialCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if dialer.dialCount() != 2 {
		t.Fatalf("dial count = %d, want 2 (redial after decode errors)", dialer.dialCount())
	}
}

func TestSingleDecodeErrorKeepsConnection(t *testing.T) {
	dialer := &fakeDialer{}
	conn := newFakeConn()
	dialer.script(dialOutcome{conn: conn})
	client := testClient(t, dialer)

	if err := client.Connect("sess-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitForState(t, client, StateConnected)

	conn.failRead(&json.SyntaxError{Offset: 1})
	conn.pushFrame(wire.Frame{Type: wire.TypeChat, Data: json.RawMessage(`{"content":"hi"}`)})

	frame := drainUntilFrame(t, client)
	if frame.Type != wire.TypeChat {
		t.Fatalf("frame type = %q, want chat after decode error", frame.Type)
	}
	if client.State() != StateConnected {
		t.Fatalf("state = %v, want connected", client.State())
	}
}

func TestSessionURL(t *testing.T) {
	got := SessionURL("ws://host/ws/", "sess 1", "a&b")
	want := "ws://host/ws/session/sess%201?token=a%26b"
	if got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}
}
