package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"brainfuel-session/internal/app"
	"brainfuel-session/internal/config"
	"brainfuel-session/internal/domain"
)

// NewHistoryCmd lists archived match results.
func NewHistoryCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [room-code]",
		Short: "List archived match results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomCode := ""
			if len(args) == 1 {
				code, err := app.NormalizeRoomCode(args[0])
				if err != nil {
					return err
				}
				roomCode = code
			}
			return runHistory(cmd.Context(), *configPath, roomCode, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of results to show")
	return cmd
}

func runHistory(ctx context.Context, configPath, roomCode string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Redis.Addr == "" && cfg.Postgres.URL == "" {
		return fmt.Errorf("no history backend configured (set redis.addr or postgres.url)")
	}

	store, cleanup, err := buildHistoryStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := store.RecentResults(ctx, roomCode, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return domain.ErrHistoryEmpty
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tROOM\tWINNER\tSCORE\tPLAYERS")
	for _, result := range results {
		winner, score := "-", 0
		if len(result.Ranking) > 0 {
			winner = result.Ranking[0].Username
			score = result.Ranking[0].Score
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
			result.FinishedAt.Local().Format(time.DateTime),
			result.RoomCode, winner, score, len(result.Ranking))
	}
	return w.Flush()
}
