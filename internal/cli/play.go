package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"brainfuel-session/internal/app"
	"brainfuel-session/internal/config"
	"brainfuel-session/internal/domain"
	"brainfuel-session/internal/infra/memory"
	pgstore "brainfuel-session/internal/infra/postgres"
	redisstore "brainfuel-session/internal/infra/redis"
	"brainfuel-session/internal/transport/rest"
	"brainfuel-session/internal/transport/ws"
)

// NewPlayCmd builds the CLI subcommand that joins a room and plays a session
// from the terminal.
func NewPlayCmd(configPath *string) *cobra.Command {
	var (
		spectator bool
		username  string
	)
	cmd := &cobra.Command{
		Use:   "play <room-code>",
		Short: "Join a multiplayer room and play in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), *configPath, args[0], username, spectator)
		},
	}
	cmd.Flags().BoolVar(&spectator, "spectator", false, "join as a spectator (receive state, cannot answer)")
	cmd.Flags().StringVar(&username, "username", "", "display name (defaults to config, then $USER)")
	return cmd
}

func runPlay(ctx context.Context, configPath, roomCode, username string, spectator bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if username == "" {
		username = cfg.Session.Username
	}
	if username == "" {
		username = os.Getenv("USER")
	}
	if username == "" {
		return fmt.Errorf("no username configured")
	}

	token := cfg.Auth.Token
	if token == "" {
		token = os.Getenv("BRAINFUEL_TOKEN")
	}

	restClient := rest.NewClient(cfg.Server.BaseURL, token)
	rooms := memory.NewRoomCache(restClient, config.TTLDuration(cfg.Rooms.CacheTTL, 30*time.Second))

	dialer := ws.NewDialer(cfg.Server.WSURL, token)
	dial := func(ctx context.Context, code string) (app.Channel, error) {
		return dialer.Dial(ctx, code)
	}

	history, cleanup, err := buildHistoryStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	updates := make(chan app.SessionState, 32)
	runner := app.NewSessionRunner(rooms, dial, app.RunnerOptions{
		Username:        username,
		QuestionTimeout: config.TTLDuration(cfg.Session.QuestionTimeout, 0),
		Reconnect: app.ReconnectPolicy{
			Enabled:     cfg.Session.Reconnect.Enabled,
			MinInterval: config.TTLDuration(cfg.Session.Reconnect.MinInterval, time.Second),
			MaxInterval: config.TTLDuration(cfg.Session.Reconnect.MaxInterval, 30*time.Second),
			MaxRetries:  cfg.Session.Reconnect.MaxRetries,
		},
		History: history,
		Logger:  logger,
		OnChange: func(s app.SessionState) {
			select {
			case updates <- s:
			default:
				// The terminal only needs the latest view.
			}
		},
	})
	defer runner.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state, err := runner.Join(ctx, roomCode, spectator)
	if err != nil {
		var joinErr *domain.JoinError
		if errors.As(err, &joinErr) {
			fmt.Printf("Could not join %s: %s\n", joinErr.RoomCode, joinErr.Reason)
			return nil
		}
		return err
	}

	fmt.Printf("Joined room %s as %s", runner.RoomCode(), username)
	if spectator {
		fmt.Print(" (spectator)")
	}
	fmt.Println()
	render(state, app.SessionState{})

	input := readLines(ctx)
	prev := state

	for {
		select {
		case <-ctx.Done():
			return nil
		case state := <-updates:
			render(state, prev)
			prev = state
		case line, ok := <-input:
			if !ok {
				return nil
			}
			if done := handleCommand(ctx, runner, line); done {
				return nil
			}
		}
	}
}

// handleCommand interprets one line of terminal input. Numbers pick an answer
// option; start/rematch are host-only and refused locally otherwise.
func handleCommand(ctx context.Context, runner *app.SessionRunner, line string) bool {
	line = strings.TrimSpace(strings.ToLower(line))
	switch line {
	case "":
		return false
	case "quit", "exit", "q":
		return true
	case "start":
		if err := runner.StartMatch(ctx); err != nil {
			fmt.Printf("start: %v\n", err)
		}
		return false
	case "rematch":
		if err := runner.Rematch(ctx); err != nil {
			fmt.Printf("rematch: %v\n", err)
		}
		return false
	}

	n, err := strconv.Atoi(line)
	if err != nil {
		fmt.Println("commands: <option number>, start, rematch, quit")
		return false
	}
	state := runner.State()
	if state.Question == nil || n < 1 || n > len(state.Question.Options) {
		fmt.Println("no such option")
		return false
	}
	if !runner.SubmitAnswer(state.Question.Options[n-1].ID) {
		fmt.Println("answer not accepted (already locked, spectating, or match not active)")
	}
	return false
}

func render(state, prev app.SessionState) {
	if state.Status != prev.Status {
		switch state.Status {
		case app.SessionWaiting:
			fmt.Printf("Waiting for the host to start (%d in room)\n", len(state.Room.Participants))
			if state.IsHost() {
				fmt.Println("You are the host. Type 'start' to begin.")
			}
		case app.SessionActive:
			fmt.Println("Match is live.")
		case app.SessionFinished:
			fmt.Println("Match finished.")
			printRanking(state.Ranking)
			if state.IsHost() {
				fmt.Println("Type 'rematch' for another round.")
			}
		case app.SessionDisconnected:
			fmt.Println("Connection lost; showing last known state.")
		}
	}

	if state.Question != nil && (prev.Question == nil || prev.Question.ID != state.Question.ID) {
		q := state.Question
		fmt.Printf("\nQuestion %d/%d: %s\n", q.Index+1, q.Total, q.Text)
		for i, opt := range q.Options {
			fmt.Printf("  %d) %s\n", i+1, opt.Text)
		}
	}
}

func printRanking(ranking []domain.RankingEntry) {
	for i, entry := range ranking {
		line := fmt.Sprintf("  %d. %-20s %d pts", i+1, entry.Username, entry.Score)
		if entry.CorrectCount > 0 {
			line += fmt.Sprintf(" (%d correct)", entry.CorrectCount)
		}
		fmt.Println(line)
	}
}

// readLines feeds stdin lines to the session loop without blocking it.
func readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// buildHistoryStore picks the configured archive backend: Redis, then
// Postgres, then in-process memory.
func buildHistoryStore(ctx context.Context, cfg config.Config) (app.HistoryStore, func(), error) {
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
		return redisstore.NewHistoryStore(client, ttl), func() { _ = client.Close() }, nil
	}
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return pgstore.NewHistoryStore(pool), pool.Close, nil
	}
	return memory.NewHistoryStore(), func() {}, nil
}
