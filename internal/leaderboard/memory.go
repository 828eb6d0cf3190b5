package leaderboard

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arcade-scores/internal/domain"
)

type memBoard struct {
	mu      sync.RWMutex
	entries []domain.LeaderboardEntry
	best    map[string]domain.LeaderboardEntry
}

func newMemBoard() *memBoard {
	return &memBoard{best: make(map[string]domain.LeaderboardEntry)}
}

// position returns the index of the first entry that does not rank ahead of e
func (b *memBoard) position(e domain.LeaderboardEntry) int {
	return sort.Search(len(b.entries), func(i int) bool {
		return !b.entries[i].Before(e)
	})
}

func (b *memBoard) improve(playerID string, score int64, at time.Time) domain.BoardResult {
	cur, ok := b.best[playerID]
	if ok && score <= cur.Score {
		return domain.BoardResult{Improved: false, Rank: int64(b.position(cur)) + 1, Best: cur.Score}
	}

	if ok {
		i := b.position(cur)
		b.entries = slices.Delete(b.entries, i, i+1)
	}

	next := domain.LeaderboardEntry{PlayerID: playerID, Score: score, AchievedAt: at}
	i := b.position(next)
	b.entries = slices.Insert(b.entries, i, next)
	b.best[playerID] = next
	return domain.BoardResult{Improved: true, Rank: int64(i) + 1, Best: score}
}

// MemoryStore is an in-process Store. Each board has its own lock; a multi-board submit
// takes the locks in key order so concurrent submits cannot deadlock.
type MemoryStore struct {
	mu     sync.Mutex
	boards map[domain.BoardKey]*memBoard
}

// NewMemoryStore creates an empty in-memory leaderboard store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boards: make(map[domain.BoardKey]*memBoard)}
}

func (m *MemoryStore) board(key domain.BoardKey) *memBoard {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boards[key]
}

// SubmitBest implements Store
func (m *MemoryStore) SubmitBest(_ context.Context, playerID string, boards []domain.BoardKey, score int64, at time.Time) ([]domain.BoardResult, error) {
	keys := slices.Clone(boards)
	slices.SortFunc(keys, func(a, b domain.BoardKey) int {
		return strings.Compare(a.String(), b.String())
	})
	keys = slices.Compact(keys)

	resolved := m.resolve(keys)
	for _, key := range keys {
		resolved[key].mu.Lock()
	}
	defer func() {
		for _, key := range keys {
			resolved[key].mu.Unlock()
		}
	}()

	results := make([]domain.BoardResult, len(boards))
	for i, key := range boards {
		res := resolved[key].improve(playerID, score, at)
		res.Board = key
		results[i] = res
	}
	return results, nil
}

func (m *MemoryStore) resolve(keys []domain.BoardKey) map[domain.BoardKey]*memBoard {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[domain.BoardKey]*memBoard, len(keys))
	for _, key := range keys {
		b, ok := m.boards[key]
		if !ok {
			b = newMemBoard()
			m.boards[key] = b
		}
		out[key] = b
	}
	return out
}

// PlayerRank implements Store
func (m *MemoryStore) PlayerRank(_ context.Context, board domain.BoardKey, playerID string) (*domain.LeaderboardEntry, error) {
	b := m.board(board)
	if b == nil {
		return nil, domain.ErrPlayerNotFound
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	cur, ok := b.best[playerID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	cur.Rank = int64(b.position(cur)) + 1
	return &cur, nil
}

// Range implements Store
func (m *MemoryStore) Range(_ context.Context, board domain.BoardKey, start, stop int64) ([]domain.LeaderboardEntry, error) {
	b := m.board(board)
	if b == nil {
		return []domain.LeaderboardEntry{}, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	n := int64(len(b.entries))
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return []domain.LeaderboardEntry{}, nil
	}

	out := make([]domain.LeaderboardEntry, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		e := b.entries[i]
		e.Rank = i + 1
		out = append(out, e)
	}
	return out, nil
}

// Count implements Store
func (m *MemoryStore) Count(_ context.Context, board domain.BoardKey) (int64, error) {
	b := m.board(board)
	if b == nil {
		return 0, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.entries)), nil
}

// Reset implements Store
func (m *MemoryStore) Reset(_ context.Context, boards []domain.BoardKey) error {
	for _, key := range boards {
		b := m.board(key)
		if b == nil {
			continue
		}
		b.mu.Lock()
		b.entries = nil
		b.best = make(map[string]domain.LeaderboardEntry)
		b.mu.Unlock()
	}
	return nil
}

// Boards implements Store
func (m *MemoryStore) Boards(_ context.Context) ([]domain.BoardKey, error) {
	m.mu.Lock()
	all := make(map[domain.BoardKey]*memBoard, len(m.boards))
	for key, b := range m.boards {
		all[key] = b
	}
	m.mu.Unlock()

	out := make([]domain.BoardKey, 0, len(all))
	for key, b := range all {
		b.mu.RLock()
		empty := len(b.entries) == 0
		b.mu.RUnlock()
		if !empty {
			out = append(out, key)
		}
	}
	slices.SortFunc(out, func(a, b domain.BoardKey) int {
		return strings.Compare(a.String(), b.String())
	})
	return out, nil
}
