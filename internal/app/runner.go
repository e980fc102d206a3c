package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"brainfuel-session/internal/domain"
)

// HistoryStore archives finished match results.
type HistoryStore interface {
	SaveResult(ctx context.Context, result domain.MatchResult) error
	RecentResults(ctx context.Context, roomCode string, limit int) ([]domain.MatchResult, error)
}

// ReconnectPolicy bounds the automatic rejoin behavior after a mid-session
// disconnect. Retries never run faster than MinInterval.
type ReconnectPolicy struct {
	Enabled     bool
	MinInterval time.Duration
	MaxInterval time.Duration
	MaxRetries  uint64
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.MinInterval < time.Second {
		p.MinInterval = time.Second
	}
	if p.MaxInterval < p.MinInterval {
		p.MaxInterval = 30 * time.Second
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 5
	}
	return p
}

// RunnerOptions configures one session runner.
type RunnerOptions struct {
	Username string
	// QuestionTimeout closes the answer window locally if the server has not
	// replaced the question in time. Zero disables the timer.
	QuestionTimeout time.Duration
	Reconnect       ReconnectPolicy
	History         HistoryStore
	Logger          *slog.Logger
	// OnChange is invoked with a state snapshot after every transition, one
	// call at a time on the dispatch goroutine.
	OnChange func(SessionState)
}

// SessionRunner owns one room session end to end: it wires the client, the
// state reducer and the answer gate, runs the per-question timer, applies the
// reconnect policy (a runner decision, never the client's), and archives the
// final ranking. One runner per room session; nothing is shared across
// sessions.
type SessionRunner struct {
	rooms  RoomService
	dial   DialFunc
	opts   RunnerOptions
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	client        *RoomSessionClient
	gate          *AnswerGate
	state         SessionState
	roomCode      string
	spectator     bool
	generation    string
	questionTimer *time.Timer
	archived      bool
	joined        bool
	closed        bool
}

func NewSessionRunner(rooms RoomService, dial DialFunc, opts RunnerOptions) *SessionRunner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &SessionRunner{
		rooms:  rooms,
		dial:   dial,
		opts:   opts,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	r.gate = NewAnswerGate(r.sendMessage)
	return r
}

// Join enters the room and starts routing messages. The returned state is the
// initial snapshot; later transitions arrive through OnChange.
func (r *SessionRunner) Join(ctx context.Context, roomCode string, asSpectator bool) (SessionState, error) {
	code, err := NormalizeRoomCode(roomCode)
	if err != nil {
		return SessionState{}, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return SessionState{}, ErrNoSession
	}
	if r.joined {
		r.mu.Unlock()
		return SessionState{}, ErrAlreadyJoined
	}
	r.joined = true
	r.roomCode = code
	r.spectator = asSpectator
	gen := uuid.NewString()
	r.generation = gen
	client := r.newClientLocked(gen)
	r.mu.Unlock()

	room, err := client.Join(ctx, code, asSpectator)
	if err != nil {
		client.Close()
		r.mu.Lock()
		r.joined = false
		r.client = nil
		r.mu.Unlock()
		return SessionState{}, err
	}

	r.mu.Lock()
	state := NewSessionState(room, r.opts.Username, asSpectator)
	r.state = state
	r.mu.Unlock()

	r.notify(state)
	return state, nil
}

// ErrNoSession is returned for operations on a runner that has been closed or
// never joined.
var ErrNoSession = domain.ErrNoActiveSession

func (r *SessionRunner) newClientLocked(gen string) *RoomSessionClient {
	client := NewRoomSessionClient(r.rooms, r.dial, r.opts.Username, r.logger)
	client.Subscribe(func(msg domain.ServerMessage) { r.apply(gen, msg) })
	r.client = client
	return client
}

// apply is the single entry point for inbound messages. The generation guard
// keeps a late callback from a dead session's read loop or timer from ever
// mutating state for a newer session.
func (r *SessionRunner) apply(gen string, msg domain.ServerMessage) {
	r.mu.Lock()
	if r.closed || gen != r.generation {
		r.mu.Unlock()
		return
	}

	prev := r.state
	r.state = Reduce(r.state, msg)
	state := r.state

	switch m := msg.(type) {
	case domain.QuestionPush:
		r.armQuestionTimerLocked(gen, m.Question.ID)
	case domain.StateUpdate:
		if prev.Status == SessionFinished && state.Status == SessionWaiting {
			// Rematch confirmed by the server: reopen the gate for the next
			// round, where question ids may repeat.
			r.gate.Reset()
			r.archived = false
		}
	case domain.Results:
		r.stopQuestionTimerLocked()
	case domain.Disconnected:
		r.stopQuestionTimerLocked()
	}
	r.mu.Unlock()

	switch msg.(type) {
	case domain.Results:
		r.archiveResult(state)
	case domain.Disconnected:
		if state.Status == SessionDisconnected && r.opts.Reconnect.Enabled {
			go r.reconnectLoop(gen)
		}
	}

	r.notify(state)
}

// SubmitAnswer locks and sends the user's pick for the current question.
// Exactly one submission leaves the client per question, whichever of the
// manual pick and the auto-advance trigger gets here first.
func (r *SessionRunner) SubmitAnswer(optionID string) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	state := r.state
	r.mu.Unlock()

	submission, ok := r.gate.Submit(state, optionID)
	if !ok {
		return false
	}

	r.mu.Lock()
	if r.state.Question != nil && r.state.Question.ID == submission.QuestionID {
		r.state = r.state.WithSelection(submission.OptionID)
	}
	state = r.state
	r.mu.Unlock()

	r.notify(state)
	return true
}

// AnswerLocked reports whether the current question's answer window is closed
// for this client, by submission or by timeout.
func (r *SessionRunner) AnswerLocked() bool {
	r.mu.Lock()
	question := r.state.Question
	r.mu.Unlock()
	if question == nil {
		return false
	}
	_, locked := r.gate.Answered(question.ID)
	return locked
}

// StartMatch requests the match start. Host-only: a non-host caller is
// refused locally before anything is transmitted. The session state changes
// only when the server confirms with a state_update, never optimistically.
func (r *SessionRunner) StartMatch(ctx context.Context) error {
	return r.hostAction(ctx, "start", r.rooms.StartMatch)
}

// Rematch requests a new round in the same room. Host-only; like StartMatch,
// nothing is assumed locally until the server resets the room.
func (r *SessionRunner) Rematch(ctx context.Context) error {
	return r.hostAction(ctx, "rematch", r.rooms.Rematch)
}

func (r *SessionRunner) hostAction(ctx context.Context, name string, call func(context.Context, string) error) error {
	r.mu.Lock()
	client := r.client
	state := r.state
	code := r.roomCode
	r.mu.Unlock()

	if client == nil || code == "" {
		return ErrNoSession
	}
	if !state.IsHost() {
		return domain.ErrNotHost
	}
	if err := call(ctx, code); err != nil {
		return fmt.Errorf("%s match: %w", name, err)
	}
	// The channel-side nudge mirrors the REST call; both are requests.
	client.Send(domain.StartGameRequest{})
	return nil
}

// State returns a snapshot of the current session state.
func (r *SessionRunner) State() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RoomCode returns the normalized code of the joined room.
func (r *SessionRunner) RoomCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomCode
}

// Close tears the session down: cancels timers and any reconnect loop, then
// releases the channel. Idempotent, safe on every exit path.
func (r *SessionRunner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.stopQuestionTimerLocked()
	client := r.client
	r.mu.Unlock()

	r.cancel()
	if client != nil {
		client.Close()
	}
}

func (r *SessionRunner) sendMessage(msg domain.ClientMessage) bool {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return false
	}
	return client.Send(msg)
}

func (r *SessionRunner) armQuestionTimerLocked(gen, questionID string) {
	r.stopQuestionTimerLocked()
	if r.opts.QuestionTimeout <= 0 {
		return
	}
	r.questionTimer = time.AfterFunc(r.opts.QuestionTimeout, func() {
		r.expireQuestion(gen, questionID)
	})
}

func (r *SessionRunner) stopQuestionTimerLocked() {
	if r.questionTimer != nil {
		r.questionTimer.Stop()
		r.questionTimer = nil
	}
}

// expireQuestion closes the answer window when the timer fires. The gate makes
// this race-free against a manual submit landing at the same instant.
func (r *SessionRunner) expireQuestion(gen, questionID string) {
	r.mu.Lock()
	if r.closed || gen != r.generation {
		r.mu.Unlock()
		return
	}
	if r.state.Question == nil || r.state.Question.ID != questionID {
		r.mu.Unlock()
		return
	}
	state := r.state
	r.mu.Unlock()

	r.gate.Expire(questionID)
	r.notify(state)
}

func (r *SessionRunner) archiveResult(state SessionState) {
	if r.opts.History == nil {
		return
	}
	r.mu.Lock()
	if r.archived {
		r.mu.Unlock()
		return
	}
	r.archived = true
	code := r.roomCode
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()
	result := domain.MatchResult{
		RoomCode:   code,
		QuizID:     state.Room.QuizID,
		Summary:    state.Summary,
		Ranking:    state.Ranking,
		FinishedAt: time.Now().UTC(),
	}
	if err := r.opts.History.SaveResult(ctx, result); err != nil {
		r.logger.Warn("archive match result", "room", code, "err", err)
	}
}

// reconnectLoop rejoins the room with capped exponential backoff. It gives up
// on a permanent join rejection (room gone, room full), when retries are
// exhausted, or when the runner closes.
func (r *SessionRunner) reconnectLoop(gen string) {
	policy := r.opts.Reconnect.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.MinInterval
	bo.MaxInterval = policy.MaxInterval
	bo.MaxElapsedTime = 0

	attempt := func() error {
		r.mu.Lock()
		if r.closed || gen != r.generation {
			r.mu.Unlock()
			return backoff.Permanent(ErrNoSession)
		}
		code := r.roomCode
		spectator := r.spectator
		client := r.newClientLocked(gen)
		r.mu.Unlock()

		room, err := client.Join(r.ctx, code, spectator)
		if err != nil {
			client.Close()
			var joinErr *domain.JoinError
			if errors.As(err, &joinErr) {
				// The server refused the rejoin outright; retrying on the same
				// interval will not change its mind.
				return backoff.Permanent(err)
			}
			r.logger.Info("reconnect attempt failed", "room", code, "err", err)
			return err
		}

		r.mu.Lock()
		if r.closed || gen != r.generation {
			r.mu.Unlock()
			client.Close()
			return backoff.Permanent(ErrNoSession)
		}
		// Keep the last-known question and ranking; the next state_update
		// snapshot fully resynchronizes whatever was missed.
		r.state.Room = room
		r.state.YouID = resolveYou(room.Participants, r.opts.Username)
		r.state.DisconnectErr = nil
		switch room.Status {
		case domain.StatusActive:
			r.state.Status = SessionActive
		case domain.StatusFinished:
			r.state.Status = SessionFinished
		default:
			r.state.Status = SessionWaiting
		}
		state := r.state
		r.mu.Unlock()

		r.logger.Info("reconnected to room", "room", code)
		r.notify(state)
		return nil
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, policy.MaxRetries), r.ctx))
	if err != nil && !errors.Is(err, ErrNoSession) {
		r.logger.Warn("reconnect abandoned", "err", err)
	}
}

func (r *SessionRunner) notify(state SessionState) {
	if r.opts.OnChange != nil {
		r.opts.OnChange(state)
	}
}
