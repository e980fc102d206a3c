package domain

import (
	"encoding/json"
	"strconv"
)

// Message type strings used on the realtime channel.
const (
	MsgStateUpdate = "state_update"
	MsgQuestion    = "question"
	MsgResults     = "results"

	MsgJoin      = "join"
	MsgStartGame = "start_game"
	MsgAnswer    = "answer"
)

// ServerMessage is a decoded inbound channel message. Disconnected is
// synthesized locally when the channel closes; everything else comes off the
// wire.
type ServerMessage interface {
	messageType() string
}

// StateUpdate is the authoritative room snapshot. It is idempotent and applied
// as a full replace of participants and host, never a merge.
type StateUpdate struct {
	Started        bool
	HostID         string
	Players        []Participant
	QuestionIndex  int
	TotalQuestions int
}

// QuestionPush delivers the next question. It supersedes any prior unanswered
// question; the previous answer window is implicitly closed.
type QuestionPush struct {
	Question Question
}

// Results is the authoritative end-of-match signal.
type Results struct {
	Summary string
	Ranking []RankingEntry
}

// Disconnected reports channel teardown to subscribers. It is distinct from
// application messages so handlers can tell "the server said" from "the link
// dropped".
type Disconnected struct {
	Err error
}

func (StateUpdate) messageType() string  { return MsgStateUpdate }
func (QuestionPush) messageType() string { return MsgQuestion }
func (Results) messageType() string      { return MsgResults }
func (Disconnected) messageType() string { return "disconnected" }

// flexID tolerates servers that send identifiers as JSON numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type envelope struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Payload  json.RawMessage `json:"payload"`
	Question json.RawMessage `json:"question"`
	Index    int             `json:"index"`
	Total    int             `json:"total"`
}

type wireParticipant struct {
	ID          flexID `json:"id"`
	UserID      flexID `json:"user_id"`
	Username    string `json:"username"`
	IsSpectator bool   `json:"is_spectator"`
	Score       int    `json:"score"`
}

type wireStateUpdate struct {
	Started        bool              `json:"started"`
	Host           flexID            `json:"host"`
	Players        []wireParticipant `json:"players"`
	QuestionIndex  int               `json:"questionIndex"`
	TotalQuestions int               `json:"totalQuestions"`
}

type wireOption struct {
	ID   flexID `json:"id"`
	Text string `json:"text"`
}

type wireQuestion struct {
	ID      flexID       `json:"id"`
	Text    string       `json:"text"`
	Options []wireOption `json:"options"`
}

type wireRankingEntry struct {
	UserID       flexID `json:"user_id"`
	Username     string `json:"username"`
	Score        int    `json:"score"`
	Correct      *int   `json:"correct"`
	CorrectCount *int   `json:"correct_count"`
}

type wireResults struct {
	Summary string             `json:"summary"`
	Ranking []wireRankingEntry `json:"ranking"`
}

// DecodeServerMessage parses one inbound channel frame. Unknown message types
// decode to (nil, nil) so the caller can drop them silently; unparseable
// payloads return a MalformedMessageError.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedMessageError{Raw: data, Err: err}
	}

	switch env.Type {
	case MsgStateUpdate:
		var w wireStateUpdate
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &w); err != nil {
				return nil, &MalformedMessageError{Raw: data, Err: err}
			}
		}
		players := make([]Participant, 0, len(w.Players))
		for _, p := range w.Players {
			id := string(p.ID)
			if id == "" {
				id = string(p.UserID)
			}
			players = append(players, Participant{
				ID:          id,
				Username:    p.Username,
				IsSpectator: p.IsSpectator,
				Score:       p.Score,
			})
		}
		return StateUpdate{
			Started:        w.Started,
			HostID:         string(w.Host),
			Players:        players,
			QuestionIndex:  w.QuestionIndex,
			TotalQuestions: w.TotalQuestions,
		}, nil

	case MsgQuestion:
		var w wireQuestion
		if len(env.Question) == 0 {
			return nil, &MalformedMessageError{Raw: data, Err: errMissingQuestion}
		}
		if err := json.Unmarshal(env.Question, &w); err != nil {
			return nil, &MalformedMessageError{Raw: data, Err: err}
		}
		opts := make([]Option, 0, len(w.Options))
		for _, o := range w.Options {
			opts = append(opts, Option{ID: string(o.ID), Text: o.Text})
		}
		return QuestionPush{Question: Question{
			ID:      string(w.ID),
			Text:    w.Text,
			Options: opts,
			Index:   env.Index,
			Total:   env.Total,
		}}, nil

	case MsgResults:
		var w wireResults
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &w); err != nil {
				return nil, &MalformedMessageError{Raw: data, Err: err}
			}
		}
		ranking := make([]RankingEntry, 0, len(w.Ranking))
		for _, r := range w.Ranking {
			entry := RankingEntry{
				ParticipantID: string(r.UserID),
				Username:      r.Username,
				Score:         r.Score,
			}
			switch {
			case r.Correct != nil:
				entry.CorrectCount = *r.Correct
			case r.CorrectCount != nil:
				entry.CorrectCount = *r.CorrectCount
			}
			ranking = append(ranking, entry)
		}
		return Results{Summary: w.Summary, Ranking: ranking}, nil
	}

	// Unknown types are dropped, not errors: the server may gain message kinds
	// this client predates.
	return nil, nil
}

var errMissingQuestion = &fieldError{"question payload missing"}

type fieldError struct{ msg string }

func (e *fieldError) Error() string { return e.msg }

// ClientMessage is an outbound channel message.
type ClientMessage interface {
	Encode() ([]byte, error)
}

// JoinAnnounce is the initial presence announcement, sent in addition to the
// REST join once the channel opens.
type JoinAnnounce struct {
	Room     string
	Username string
}

func (m JoinAnnounce) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Room     string `json:"room"`
		Username string `json:"username"`
	}{MsgJoin, m.Room, m.Username})
}

// StartGameRequest asks the server to begin the match. It is a request, not a
// transition: state only changes on the confirming state_update.
type StartGameRequest struct{}

func (StartGameRequest) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{MsgStartGame})
}

// AnswerMessage carries one answer submission.
type AnswerMessage struct {
	OptionID string
}

func (m AnswerMessage) Encode() ([]byte, error) {
	// Servers that issued numeric option ids still accept them as numbers.
	if n, err := strconv.Atoi(m.OptionID); err == nil {
		return json.Marshal(struct {
			Type     string `json:"type"`
			OptionID int    `json:"option_id"`
		}{MsgAnswer, n})
	}
	return json.Marshal(struct {
		Type     string `json:"type"`
		OptionID string `json:"option_id"`
	}{MsgAnswer, m.OptionID})
}
