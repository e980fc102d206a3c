package app

import (
	"sync"
	"time"

	"brainfuel-session/internal/domain"
)

// AnswerGate serializes the answer interaction per question: at most one
// submission per question id per session, whatever order the manual pick and
// the auto-advance timer fire in. The lock is taken before the network send,
// so a slow round trip can never let a second submission through.
type AnswerGate struct {
	send func(domain.ClientMessage) bool
	now  func() time.Time

	mu       sync.Mutex
	answered map[string]string
}

func NewAnswerGate(send func(domain.ClientMessage) bool) *AnswerGate {
	return &AnswerGate{
		send:     send,
		now:      time.Now,
		answered: make(map[string]string),
	}
}

// Submit attempts to lock and send an answer for the current question.
// Precondition failures are silent no-ops: the UI is expected to have disabled
// the affordance already, but the gate is the final authority against stale
// callbacks firing twice. Returns whether the lock was taken.
func (g *AnswerGate) Submit(state SessionState, optionID string) (domain.AnswerSubmission, bool) {
	if optionID == "" || !state.CanAnswer() {
		return domain.AnswerSubmission{}, false
	}
	questionID := state.Question.ID

	g.mu.Lock()
	if _, done := g.answered[questionID]; done {
		g.mu.Unlock()
		return domain.AnswerSubmission{}, false
	}
	// Lock before sending: the send outcome is best-effort and the server is
	// the final authority on acceptance.
	g.answered[questionID] = optionID
	g.mu.Unlock()

	g.send(domain.AnswerMessage{OptionID: optionID})

	return domain.AnswerSubmission{
		QuestionID:      questionID,
		OptionID:        optionID,
		ClientTimestamp: g.now(),
	}, true
}

// Expire closes the answer window for a question without sending anything,
// for the time's-up path. A later manual submit for the same question is a
// no-op; an earlier one makes Expire the no-op.
func (g *AnswerGate) Expire(questionID string) {
	if questionID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, done := g.answered[questionID]; !done {
		g.answered[questionID] = ""
	}
}

// Answered returns the locked option for a question, if any. The empty string
// with ok=true means the window expired unanswered.
func (g *AnswerGate) Answered(questionID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	opt, ok := g.answered[questionID]
	return opt, ok
}

// Reset clears all locks for a new round. Question ids may repeat across
// rematches in the same room.
func (g *AnswerGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.answered = make(map[string]string)
}
