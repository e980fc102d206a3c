package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotHost is returned when a non-host participant requests a privileged action.
	ErrNotHost = errors.New("only the host may perform this action")
	// ErrRoomNotFound indicates the room metadata could not be loaded.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNoActiveSession is returned when an operation needs a joined session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrHistoryEmpty is returned when no archived results exist for a room.
	ErrHistoryEmpty = errors.New("no match history")
)

// JoinError is a rejected REST join. It carries the HTTP status and the
// server-given reason (room full, not found, already started) so callers can
// surface it verbatim. Joins are never retried automatically.
type JoinError struct {
	RoomCode   string
	StatusCode int
	Reason     string
}

func (e *JoinError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("join room %s: rejected with status %d", e.RoomCode, e.StatusCode)
	}
	return fmt.Sprintf("join room %s: %s", e.RoomCode, e.Reason)
}

// MalformedMessageError wraps a payload that failed to parse. It is logged and
// dropped at the client boundary, never propagated into the session.
type MalformedMessageError struct {
	Raw []byte
	Err error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed channel message: %v", e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }
