package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"brainfuel-session/internal/app"
	"brainfuel-session/internal/domain"
)

// fakeChannel is a scriptable in-memory Channel.
type fakeChannel struct {
	inbound   chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	sent   [][]byte
	closes int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		inbound: make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeChannel) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closeCh:
		return nil, errors.New("use of closed channel")
	}
}

func (c *fakeChannel) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

func (c *fakeChannel) push(raw string) {
	c.inbound <- []byte(raw)
}

func (c *fakeChannel) sentMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, data := range c.sent {
		out[i] = string(data)
	}
	return out
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// fakeRooms is a scriptable RoomService.
type fakeRooms struct {
	mu        sync.Mutex
	room      domain.Room
	joinErr   error
	joins     int
	starts    int
	rematches int
}

func (f *fakeRooms) JoinRoom(_ context.Context, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	return f.joinErr
}

func (f *fakeRooms) GetRoom(_ context.Context, _ string) (domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.room, nil
}

func (f *fakeRooms) StartMatch(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeRooms) Rematch(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rematches++
	return nil
}

func (f *fakeRooms) counts() (joins, starts, rematches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins, f.starts, f.rematches
}

func dialTo(channel *fakeChannel) app.DialFunc {
	return func(context.Context, string) (app.Channel, error) {
		return channel, nil
	}
}

// recorder collects dispatched messages.
type recorder struct {
	mu   sync.Mutex
	msgs []domain.ServerMessage
}

func (r *recorder) handle(msg domain.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) at(i int) domain.ServerMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.msgs) {
		return nil
	}
	return r.msgs[i]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func twoPlayerRoom() domain.Room {
	return domain.Room{
		Code:   "ABCD12",
		HostID: "1",
		Status: domain.StatusWaiting,
		Participants: []domain.Participant{
			{ID: "1", Username: "alice"},
			{ID: "2", Username: "bob"},
		},
	}
}
