package domain

import "time"

// RoomStatus mirrors the server-side lifecycle of a multiplayer room.
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusActive   RoomStatus = "active"
	StatusFinished RoomStatus = "finished"
)

// Participant is the client-side mirror of one room member. The server copy is
// authoritative; local values are replaced wholesale on every state_update.
type Participant struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	IsSpectator bool   `json:"is_spectator"`
	Score       int    `json:"score"`
}

// Room is the cached snapshot of a server-managed match context. Configuration
// fields are fixed at creation and never change for the room's lifetime.
type Room struct {
	Code          string        `json:"code"`
	HostID        string        `json:"host_id"`
	Status        RoomStatus    `json:"status"`
	Participants  []Participant `json:"participants"`
	QuizID        string        `json:"quiz_id"`
	QuizTitle     string        `json:"quiz_title"`
	Difficulty    string        `json:"difficulty"`
	QuestionCount int           `json:"question_count"`
	MaxPlayers    int           `json:"max_players"`
}

// Option is a possible answer for a question. Correctness is never part of the
// wire payload before results.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is the single in-flight question pushed by the server. The client
// holds at most one; a newer question always supersedes it.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
	Index   int      `json:"index"`
	Total   int      `json:"total"`
}

// AnswerSubmission is the scoring signal sent to the server. At most one per
// question per session leaves the client (enforced by the answer gate).
type AnswerSubmission struct {
	QuestionID      string
	OptionID        string
	ClientTimestamp time.Time
}

// RankingEntry is one row of the final scoreboard, an immutable snapshot taken
// from a results message.
type RankingEntry struct {
	ParticipantID string `json:"participant_id"`
	Username      string `json:"username"`
	Score         int    `json:"score"`
	CorrectCount  int    `json:"correct_count"`
}

// MatchResult is the archived outcome of a finished match.
type MatchResult struct {
	RoomCode   string         `json:"room_code"`
	QuizID     string         `json:"quiz_id"`
	Summary    string         `json:"summary"`
	Ranking    []RankingEntry `json:"ranking"`
	FinishedAt time.Time      `json:"finished_at"`
}
