package ws

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/websocket"

	"github.com/bykotofff/dnd-game-sub001/internal/wire"
)

// FrameConn is one live session connection speaking JSON frames.
type FrameConn interface {
	ReadFrame() (wire.Frame, error)
	WriteFrame(wire.Frame) error
	Close() error
}

// Dialer opens a frame connection to the given websocket URL.
type Dialer func(ctx context.Context, wsURL string) (FrameConn, error)

// DialWebsocket is the production dialer.
func DialWebsocket(ctx context.Context, wsURL string) (FrameConn, error) {
	origin, err := originFor(wsURL)
	if err != nil {
		return nil, err
	}
	cfg, err := websocket.NewConfig(wsURL, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config for %q: %w", wsURL, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		cfg.Dialer = &net.Dialer{Deadline: deadline}
	}
	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", wsURL, err)
	}
	return &websocketFrameConn{conn: conn}, nil
}

func originFor(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url %q: %w", wsURL, err)
	}
	scheme := "http"
	if parsed.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + parsed.Host, nil
}

type websocketFrameConn struct {
	conn *websocket.Conn
}

func (c *websocketFrameConn) ReadFrame() (wire.Frame, error) {
	var frame wire.Frame
	if err := websocket.JSON.Receive(c.conn, &frame); err != nil {
		return wire.Frame{}, err
	}
	return frame, nil
}

func (c *websocketFrameConn) WriteFrame(frame wire.Frame) error {
	return websocket.JSON.Send(c.conn, frame)
}

func (c *websocketFrameConn) Close() error {
	return c.conn.Close()
}

// SessionURL builds the websocket endpoint for one session. The token rides
// in the query string because browser websocket clients cannot set headers,
// and the server accepts the same form from every client.
func SessionURL(baseURL, sessionID, token string) string {
	base := strings.TrimRight(baseURL, "/")
	return base + "/session/" + url.PathEscape(sessionID) + "?token=" + url.QueryEscape(token)
}
