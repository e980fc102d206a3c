package ws

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	maxMessageSize   = 64 * 1024
)

// Conn adapts a gorilla websocket connection to the app-layer Channel
// contract: blocking reads, serialized writes, idempotent close.
type Conn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

// Dialer opens realtime channels against the BrainFuel websocket endpoint.
// The bearer token is attached to the handshake as an opaque query parameter;
// this package never inspects or refreshes it.
type Dialer struct {
	baseURL string
	token   string
}

func NewDialer(baseURL, token string) *Dialer {
	return &Dialer{baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

// Dial connects the quiz channel for one room. Exactly one connection per
// call; reconnect policy belongs to the caller.
func (d *Dialer) Dial(ctx context.Context, roomCode string) (*Conn, error) {
	u := fmt.Sprintf("%s/ws/quiz/%s/", d.baseURL, url.PathEscape(roomCode))
	if d.token != "" {
		u += "?token=" + url.QueryEscape(d.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial room %s: %w (status %d)", roomCode, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial room %s: %w", roomCode, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &Conn{conn: conn}, nil
}

// ReadMessage blocks until the next frame or the connection fails.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// WriteMessage sends one text frame. Gorilla connections allow a single
// writer, so writes are serialized here.
func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down. Safe to call more than once and from any
// goroutine; only the first call sends the close frame.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return c.conn.Close()
}
