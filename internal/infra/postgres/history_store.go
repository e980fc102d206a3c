package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"brainfuel-session/internal/domain"
)

// HistoryStore persists match results in Postgres. Rankings are kept as JSONB
// snapshots, matching how they arrive: immutable, replaced wholesale.
type HistoryStore struct {
	pool *pgxpool.Pool
}

func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

func (s *HistoryStore) SaveResult(ctx context.Context, result domain.MatchResult) error {
	ranking, err := json.Marshal(result.Ranking)
	if err != nil {
		return fmt.Errorf("marshal ranking: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO match_results (room_code, quiz_id, summary, ranking, finished_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		result.RoomCode, result.QuizID, result.Summary, ranking, result.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert match result: %w", err)
	}
	return nil
}

// RecentResults returns up to limit results, newest first. An empty roomCode
// matches every room.
func (s *HistoryStore) RecentResults(ctx context.Context, roomCode string, limit int) ([]domain.MatchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT room_code, quiz_id, summary, ranking, finished_at
		 FROM match_results
		 WHERE $1 = '' OR room_code = $1
		 ORDER BY finished_at DESC
		 LIMIT $2`,
		roomCode, limit)
	if err != nil {
		return nil, fmt.Errorf("query match results: %w", err)
	}
	defer rows.Close()

	var results []domain.MatchResult
	for rows.Next() {
		var result domain.MatchResult
		var ranking []byte
		if err := rows.Scan(&result.RoomCode, &result.QuizID, &result.Summary, &ranking, &result.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan match result: %w", err)
		}
		if err := json.Unmarshal(ranking, &result.Ranking); err != nil {
			return nil, fmt.Errorf("unmarshal ranking: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
