package app

import (
	"brainfuel-session/internal/domain"
)

// SessionStatus is the client-side session lifecycle.
type SessionStatus string

const (
	// SessionConnecting covers the window between channel open and the first
	// authoritative room snapshot.
	SessionConnecting SessionStatus = "connecting"
	SessionWaiting    SessionStatus = "waiting"
	SessionActive     SessionStatus = "active"
	SessionFinished   SessionStatus = "finished"
	// SessionDisconnected keeps last-known data visible while blocking any
	// further answer submission.
	SessionDisconnected SessionStatus = "disconnected"
)

// SessionState is the full client view of one room session. It is a cache of
// server-authoritative state: every field the server reports is replaced, not
// merged, when the next authoritative message arrives.
type SessionState struct {
	Status         SessionStatus
	Room           domain.Room
	Question       *domain.Question
	SelectedOption string
	Ranking        []domain.RankingEntry
	Summary        string

	// YouID is the local participant's id, resolved from the participant list
	// by username. Empty until the server has echoed the join.
	YouID     string
	Username  string
	Spectator bool

	// DisconnectErr holds the transport error that caused a Disconnected
	// status, for display; nil otherwise.
	DisconnectErr error
}

// NewSessionState builds the initial state from the REST room snapshot taken
// at join time.
func NewSessionState(room domain.Room, username string, spectator bool) SessionState {
	s := SessionState{
		Status:    SessionConnecting,
		Room:      room,
		Username:  username,
		Spectator: spectator,
	}
	switch room.Status {
	case domain.StatusWaiting:
		s.Status = SessionWaiting
	case domain.StatusActive:
		s.Status = SessionActive
	case domain.StatusFinished:
		s.Status = SessionFinished
	}
	s.YouID = resolveYou(room.Participants, username)
	return s
}

// IsHost reports whether the local participant holds room control. Privileged
// actions (start, rematch) must be gated on this before any request is made.
func (s SessionState) IsHost() bool {
	return s.YouID != "" && s.YouID == s.Room.HostID
}

// CanAnswer reports whether the answer controls should be enabled at all.
// The answer gate re-checks these conditions atomically on submit.
func (s SessionState) CanAnswer() bool {
	return s.Status == SessionActive && s.Question != nil && !s.Spectator
}

// Reduce applies one inbound message to the session state. It is a pure
// function of (state, message): replaying the same message sequence always
// yields the same state, which is what makes a fresh state_update able to
// fully resynchronize a client after a reconnect.
func Reduce(s SessionState, msg domain.ServerMessage) SessionState {
	switch m := msg.(type) {
	case domain.StateUpdate:
		return reduceStateUpdate(s, m)
	case domain.QuestionPush:
		return reduceQuestion(s, m)
	case domain.Results:
		return reduceResults(s, m)
	case domain.Disconnected:
		return reduceDisconnect(s, m)
	}
	return s
}

func reduceStateUpdate(s SessionState, m domain.StateUpdate) SessionState {
	// Full replace of participants and host: this is the authoritative room
	// snapshot and may arrive any number of times with identical content.
	s.Room.HostID = m.HostID
	s.Room.Participants = m.Players
	s.YouID = resolveYou(m.Players, s.Username)

	wasFinished := s.Status == SessionFinished
	if m.Started {
		s.Status = SessionActive
		s.Room.Status = domain.StatusActive
	} else {
		s.Status = SessionWaiting
		s.Room.Status = domain.StatusWaiting
		if wasFinished {
			// Rematch reset: the round is over and the server has put the room
			// back into the lobby. Clear the previous round's artifacts.
			s.Question = nil
			s.SelectedOption = ""
			s.Ranking = nil
			s.Summary = ""
		}
	}
	return s
}

func reduceQuestion(s SessionState, m domain.QuestionPush) SessionState {
	if s.Status == SessionFinished {
		// A results message is terminal for the round; a stray late question
		// is ignored.
		return s
	}
	q := m.Question
	s.Question = &q
	s.SelectedOption = ""
	s.Status = SessionActive
	s.Room.Status = domain.StatusActive
	return s
}

func reduceResults(s SessionState, m domain.Results) SessionState {
	// The authoritative end-of-match signal wins over any prior local
	// assumption, whatever state we were in.
	s.Status = SessionFinished
	s.Room.Status = domain.StatusFinished
	s.Ranking = m.Ranking
	s.Summary = m.Summary
	return s
}

func reduceDisconnect(s SessionState, m domain.Disconnected) SessionState {
	if s.Status == SessionFinished {
		// The match outcome is already known; a dropped link changes nothing.
		return s
	}
	s.Status = SessionDisconnected
	s.DisconnectErr = m.Err
	return s
}

// WithSelection records the locally locked option for display. The selection
// is a client-side artifact, not server state.
func (s SessionState) WithSelection(optionID string) SessionState {
	s.SelectedOption = optionID
	return s
}

func resolveYou(players []domain.Participant, username string) string {
	for _, p := range players {
		if p.Username == username {
			return p.ID
		}
	}
	return ""
}
