package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"brainfuel-session/internal/domain"
)

// maxHistoryLen bounds the per-key result lists.
const maxHistoryLen = 100

// HistoryStore archives match results in Redis. Results are LPUSHed as JSON
// onto a per-room list plus a global recent list, both trimmed and given a
// TTL so abandoned rooms age out.
type HistoryStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewHistoryStore(client *redis.Client, ttl time.Duration) *HistoryStore {
	return &HistoryStore{client: client, ttl: ttl}
}

func (s *HistoryStore) SaveResult(ctx context.Context, result domain.MatchResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal match result: %w", err)
	}

	pipe := s.client.Pipeline()
	for _, key := range []string{s.roomKey(result.RoomCode), s.recentKey()} {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, maxHistoryLen-1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store match result: %w", err)
	}
	return nil
}

// RecentResults returns up to limit results, newest first. An empty roomCode
// reads the global recent list.
func (s *HistoryStore) RecentResults(ctx context.Context, roomCode string, limit int) ([]domain.MatchResult, error) {
	key := s.recentKey()
	if roomCode != "" {
		key = s.roomKey(roomCode)
	}
	if limit <= 0 || limit > maxHistoryLen {
		limit = maxHistoryLen
	}

	raw, err := s.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read match history: %w", err)
	}

	results := make([]domain.MatchResult, 0, len(raw))
	for _, item := range raw {
		var result domain.MatchResult
		if err := json.Unmarshal([]byte(item), &result); err != nil {
			// One corrupt entry must not hide the rest of the history.
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *HistoryStore) roomKey(code string) string {
	return "match:history:" + code
}

func (s *HistoryStore) recentKey() string {
	return "match:history:recent"
}
