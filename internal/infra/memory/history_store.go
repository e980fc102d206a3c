package memory

import (
	"context"
	"sort"
	"sync"

	"brainfuel-session/internal/domain"
)

// HistoryStore keeps finished match results in memory, newest first. Useful
// for tests and for a single CLI invocation without backing storage.
type HistoryStore struct {
	mu      sync.RWMutex
	results []domain.MatchResult
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{}
}

func (s *HistoryStore) SaveResult(_ context.Context, result domain.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

// RecentResults returns up to limit results, newest first. An empty roomCode
// matches every room.
func (s *HistoryStore) RecentResults(_ context.Context, roomCode string, limit int) ([]domain.MatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.MatchResult, 0, len(s.results))
	for _, r := range s.results {
		if roomCode == "" || r.RoomCode == roomCode {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].FinishedAt.After(matched[j].FinishedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
