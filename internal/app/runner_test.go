package app_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"brainfuel-session/internal/app"
	"brainfuel-session/internal/domain"
	"brainfuel-session/internal/infra/memory"
)

func newRunner(t *testing.T, rooms *fakeRooms, dial app.DialFunc, opts app.RunnerOptions) *app.SessionRunner {
	t.Helper()
	opts.Logger = quietLogger()
	runner := app.NewSessionRunner(rooms, dial, opts)
	t.Cleanup(runner.Close)
	return runner
}

func TestRunnerRefusesHostActionsFromNonHost(t *testing.T) {
	rooms := &fakeRooms{room: twoPlayerRoom()}
	channel := newFakeChannel()
	runner := newRunner(t, rooms, dialTo(channel), app.RunnerOptions{Username: "bob"})

	if _, err := runner.Join(context.Background(), "ABCD12", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := runner.StartMatch(context.Background()); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := runner.Rematch(context.Background()); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	if _, starts, rematches := rooms.counts(); starts != 0 || rematches != 0 {
		t.Fatalf("privileged requests must never leave a non-host client, got starts=%d rematches=%d", starts, rematches)
	}
	for _, sent := range channel.sentMessages() {
		if strings.Contains(sent, domain.MsgStartGame) {
			t.Fatalf("start_game transmitted by non-host: %s", sent)
		}
	}
}

func TestRunnerHostStartIsRequestNotTransition(t *testing.T) {
	rooms := &fakeRooms{room: twoPlayerRoom()}
	channel := newFakeChannel()
	runner := newRunner(t, rooms, dialTo(channel), app.RunnerOptions{Username: "alice"})

	if _, err := runner.Join(context.Background(), "ABCD12", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := runner.StartMatch(context.Background()); err != nil {
		t.Fatalf("host start: %v", err)
	}
	if _, starts, _ := rooms.counts(); starts != 1 {
		t.Fatalf("expected one REST start call, got %d", starts)
	}

	found := false
	for _, sent := range channel.sentMessages() {
		if strings.Contains(sent, domain.MsgStartGame) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected start_game on the channel")
	}

	// No optimistic transition: state changes only on the confirming snapshot.
	if runner.State().Status != app.SessionWaiting {
		t.Fatalf("expected still waiting, got %s", runner.State().Status)
	}

	channel.push(`{"type":"state_update","data":{"started":true,"host":"1","players":[{"id":"1","username":"alice"},{"id":"2","username":"bob"}]}}`)
	waitFor(t, "server-confirmed start", func() bool {
		return runner.State().Status == app.SessionActive
	})
}

func TestRunnerAnswerFlow(t *testing.T) {
	rooms := &fakeRooms{room: twoPlayerRoom()}
	channel := newFakeChannel()
	runner := newRunner(t, rooms, dialTo(channel), app.RunnerOptions{Username: "bob"})

	if _, err := runner.Join(context.Background(), "ABCD12", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	channel.push(`{"type":"state_update","data":{"started":true,"host":"1","players":[{"id":"1","username":"alice"},{"id":"2","username":"bob"}]}}`)
	channel.push(`{"type":"question","question":{"id":"7","text":"2+2?","options":[{"id":"42","text":"4"},{"id":"43","text":"5"}]},"index":0,"total":5}`)
	waitFor(t, "question to arrive", func() bool {
		state := runner.State()
		return state.Question != nil && state.Question.ID == "7"
	})

	if !runner.SubmitAnswer("42") {
		t.Fatal("first answer should be accepted")
	}
	if runner.SubmitAnswer("43") {
		t.Fatal("second answer for the same question must be refused")
	}
	if !runner.AnswerLocked() {
		t.Fatal("answer window should be locked after submit")
	}
	if runner.State().SelectedOption != "42" {
		t.Fatalf("expected locked selection 42, got %q", runner.State().SelectedOption)
	}

	answers := 0
	for _, sent := range channel.sentMessages() {
		if strings.Contains(sent, `"type":"answer"`) {
			answers++
			if !strings.Contains(sent, `"option_id":42`) {
				t.Fatalf("unexpected answer payload: %s", sent)
			}
		}
	}
	if answers != 1 {
		t.Fatalf("expected exactly one answer on the wire, got %d", answers)
	}
}

func TestRunnerQuestionTimeoutLocksWindow(t *testing.T) {
	rooms := &fakeRooms{room: twoPlayerRoom()}
	channel := newFakeChannel()
	runner := newRunner(t, rooms, dialTo(channel), app.RunnerOptions{
		Username:        "bob",
		QuestionTimeout: 30 * time.Millisecond,
	})

	if _, err := runner.Join(context.Background(), "ABCD12", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	channel.push(`{"type":"state_update","data":{"started":true,"host":"1","players":[{"id":"2","username":"bob"}]}}`)
	channel.push(`{"type":"question","question":{"id":"7","text":"2+2?","options":[{"id":"42","text":"4"}]},"index":0,"total":1}`)

	waitFor(t, "the answer window to expire", runner.AnswerLocked)

	if runner.SubmitAnswer("42") {
		t.Fatal("submit after timeout must be refused")
	}
	for _, sent := range channel.sentMessages() {
		if strings.Contains(sent, `"type":"answer"`) {
			t.Fatalf("timeout must not send an answer: %s", sent)
		}
	}
}

func TestRunnerCloseCancelsPendingTimer(t *testing.T) {
	rooms := &fakeRooms{room: twoPlayerRoom()}
	channel := newFakeChannel()
	runner := newRunner(t, rooms, dialTo(channel), app.RunnerOptions{
		Username:        "bob",
		QuestionTimeout: 200 * time.Millisecond,
	})

	if _, err := runner.Join(context.Background(), "ABCD12", false); err != nil {
		t.Fatalf("join: %v", err)
	}
	channel.push(`{"type":"state_update","data":{"started":true,"host":"1","players":[{"id":"2","username":"bob"}]}}`)
	channel.push(`{"type":"question","question":{"id":"7","text":"2+2?","options":[{"id":"42","text":"4"}]},"index":0,"total":1}`)
	waitFor(t, "question to arrive", func() bool { return runner.State().Question != nil })

	runner.Close()
	time.Sleep(300 * time.Millisecond)

	// A closed session must never fire a late callback.
	if runner.AnswerLocked() {
		t.Fatal("timer fired after close")
	}
}

func TestRunnerIgnoresLateQuestionAfterResults(t *testing.T) {
	rooms := &fakeRooms{room: twoPlayerRoom()}
	channel := newFakeChannel()
	runner := newRunner(t, rooms, dialTo(channel), app.RunnerOptions{Username: "bob"})

	if _, err := runner.Join(context.Background(), "ABCD12", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	channel.push(`{"type":"results","payload":{"summary":"gg","ranking":[{"username":"alice","score":30},{"username":"bob","score":20}]}}`)
	waitFor(t, "finished state", func() bool { return runner.State().Status == app.SessionFinished })

	channel.push(`{"type":"question","question":{"id":"9","text":"late","options":[]},"index":4,"total":5}`)
	time.Sleep(30 * time.Millisecond)

	state := runner.State()
	if state.Status != app.SessionFinished || state.Question != nil {
		t.Fatalf("stray question must be ignored once finished: %+v", state)
	}
	if state.Ranking[0].Username != "alice" {
		t.Fatalf("ranking must be kept: %+v", state.Ranking)
	}
}

func TestRunnerArchivesFinishedMatch(t *testing.T) {
	rooms := &fakeRooms{room: twoPlayerRoom()}
	channel := newFakeChannel()
	history := memory.NewHistoryStore()
	runner := newRunner(t, rooms, dialTo(channel), app.RunnerOptions{
		Username: "bob",
		History:  history,
	})

	if _, err := runner.Join(context.Background(), "ABCD12", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	channel.push(`{"type":"results","payload":{"summary":"gg","ranking":[{"username":"alice","score":30}]}}`)
	waitFor(t, "result to be archived", func() bool {
		results, err := history.RecentResults(context.Background(), "ABCD12", 10)
		return err == nil && len(results) == 1
	})

	results, _ := history.RecentResults(context.Background(), "ABCD12", 10)
	if results[0].Summary != "gg" || results[0].Ranking[0].Username != "alice" {
		t.Fatalf("unexpected archived result: %+v", results[0])
	}

	// A duplicate results message replaces state but is archived once.
	channel.push(`{"type":"results","payload":{"summary":"gg","ranking":[{"username":"alice","score":30}]}}`)
	time.Sleep(30 * time.Millisecond)
	results, _ = history.RecentResults(context.Background(), "", 10)
	if len(results) != 1 {
		t.Fatalf("expected one archived result, got %d", len(results))
	}
}

func TestRunnerReconnectsAfterDrop(t *testing.T) {
	if testing.Short() {
		t.Skip("reconnect backoff floors at one second")
	}

	rooms := &fakeRooms{room: twoPlayerRoom()}
	first := newFakeChannel()
	second := newFakeChannel()
	var dials int64
	dial := func(context.Context, string) (app.Channel, error) {
		if atomic.AddInt64(&dials, 1) == 1 {
			return first, nil
		}
		return second, nil
	}

	runner := newRunner(t, rooms, dial, app.RunnerOptions{
		Username: "bob",
		Reconnect: app.ReconnectPolicy{
			Enabled:     true,
			MinInterval: time.Second,
			MaxInterval: 2 * time.Second,
			MaxRetries:  3,
		},
	})

	if _, err := runner.Join(context.Background(), "ABCD12", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Server drop mid-session. The first rejoin attempt runs immediately, so
	// the disconnected state may be too short-lived to observe here.
	_ = first.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if joins, _, _ := rooms.counts(); joins >= 2 && runner.State().Status == app.SessionWaiting {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if joins, _, _ := rooms.counts(); joins < 2 {
		t.Fatalf("expected a rejoin, got %d joins", joins)
	}
	if status := runner.State().Status; status != app.SessionWaiting {
		t.Fatalf("expected resynchronized waiting state, got %s", status)
	}

	// The new channel carries the fresh presence announcement.
	waitFor(t, "presence on the new channel", func() bool {
		return len(second.sentMessages()) >= 1
	})
}
