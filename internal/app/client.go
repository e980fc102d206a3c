package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"brainfuel-session/internal/domain"
)

// Channel is one bidirectional realtime connection, owned exclusively by a
// single RoomSessionClient.
type Channel interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// DialFunc opens the realtime channel for a room.
type DialFunc func(ctx context.Context, roomCode string) (Channel, error)

// RoomService is the REST boundary to the external Room Service.
type RoomService interface {
	JoinRoom(ctx context.Context, code string, asSpectator bool) error
	GetRoom(ctx context.Context, code string) (domain.Room, error)
	StartMatch(ctx context.Context, code string) error
	Rematch(ctx context.Context, code string) error
}

// Handler receives inbound messages. Handlers run one message at a time, in
// arrival order, each handler in registration order; there is no concurrent
// invocation.
type Handler func(domain.ServerMessage)

// ErrAlreadyJoined is returned when Join is called twice on one client; a
// client owns exactly one channel for one session.
var ErrAlreadyJoined = errors.New("session already joined")

// RoomSessionClient owns the lifecycle of joining a room and routing channel
// messages. It never reconnects on its own: one Join, one channel. Reconnect
// policy belongs to the owner, so hidden retries cannot race an explicit
// Close.
type RoomSessionClient struct {
	rooms    RoomService
	dial     DialFunc
	username string
	logger   *slog.Logger

	mu       sync.Mutex
	handlers []Handler
	channel  Channel
	joined   bool
	closed   bool
}

func NewRoomSessionClient(rooms RoomService, dial DialFunc, username string, logger *slog.Logger) *RoomSessionClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomSessionClient{
		rooms:    rooms,
		dial:     dial,
		username: username,
		logger:   logger,
	}
}

// Join performs the REST join, fetches the room snapshot, opens the channel
// and announces presence. A REST rejection is fatal to this call and carries
// the server-given reason; nothing is retried here.
func (c *RoomSessionClient) Join(ctx context.Context, roomCode string, asSpectator bool) (domain.Room, error) {
	code, err := NormalizeRoomCode(roomCode)
	if err != nil {
		return domain.Room{}, err
	}

	c.mu.Lock()
	if c.joined || c.closed {
		c.mu.Unlock()
		return domain.Room{}, ErrAlreadyJoined
	}
	c.joined = true
	c.mu.Unlock()

	if err := c.rooms.JoinRoom(ctx, code, asSpectator); err != nil {
		return domain.Room{}, err
	}
	room, err := c.rooms.GetRoom(ctx, code)
	if err != nil {
		return domain.Room{}, err
	}

	channel, err := c.dial(ctx, code)
	if err != nil {
		return domain.Room{}, fmt.Errorf("open channel for room %s: %w", code, err)
	}

	c.mu.Lock()
	if c.closed {
		// Closed while dialing; release the channel on this exit path too.
		c.mu.Unlock()
		_ = channel.Close()
		return domain.Room{}, ErrAlreadyJoined
	}
	c.channel = channel
	c.mu.Unlock()

	c.Send(domain.JoinAnnounce{Room: code, Username: c.username})

	go c.readLoop(channel)

	return room, nil
}

// Send is best-effort: false means the channel is not open right now and the
// caller should wait for reconnect, never treat it as an outcome.
func (c *RoomSessionClient) Send(msg domain.ClientMessage) bool {
	c.mu.Lock()
	channel := c.channel
	closed := c.closed
	c.mu.Unlock()

	if closed || channel == nil {
		return false
	}
	data, err := msg.Encode()
	if err != nil {
		c.logger.Error("encode outbound message", "err", err)
		return false
	}
	if err := channel.WriteMessage(data); err != nil {
		c.logger.Warn("channel send failed", "err", err)
		return false
	}
	return true
}

// Subscribe registers a message handler. All subscribers see every message
// (fan-out), invoked in registration order.
func (c *RoomSessionClient) Subscribe(handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Close tears the session down. Idempotent; releases the channel on every
// exit path, whether called once, twice, or after the channel already failed.
func (c *RoomSessionClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channel := c.channel
	c.mu.Unlock()

	if channel != nil {
		_ = channel.Close()
	}
}

// readLoop is the single dispatch goroutine: inbound messages are processed
// strictly in arrival order, and subscribers are never invoked concurrently.
func (c *RoomSessionClient) readLoop(channel Channel) {
	for {
		data, err := channel.ReadMessage()
		if err != nil {
			// One corrupt connection read ends the session; an explicit Close
			// lands here too. Either way the teardown is observable as a
			// dedicated event, distinct from application messages.
			c.dispatch(domain.Disconnected{Err: err})
			return
		}

		msg, err := domain.DecodeServerMessage(data)
		if err != nil {
			// A single corrupt message must not break the session.
			c.logger.Warn("dropping malformed channel message", "err", err)
			continue
		}
		if msg == nil {
			continue
		}
		c.dispatch(msg)
	}
}

func (c *RoomSessionClient) dispatch(msg domain.ServerMessage) {
	c.mu.Lock()
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// NormalizeRoomCode upper-cases and validates the human-shareable room code.
func NormalizeRoomCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", errors.New("room code must not be empty")
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("room code %q must be alphanumeric", raw)
		}
	}
	return code, nil
}
