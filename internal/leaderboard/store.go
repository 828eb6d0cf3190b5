// Package leaderboard keeps each player's best score per ranked set and serves rank queries.
package leaderboard

import (
	"context"
	"time"

	"github.com/arcade-scores/internal/domain"
)

// Store is the ranked-set backend.
//
// SubmitBest must apply a compare-and-improve to every board in one atomic step: a board's
// entry is replaced only when score is strictly greater than the stored best, and no caller
// may observe some boards updated and others not. Ordering is score desc, then the earlier
// achievement time, then player id.
type Store interface {
	SubmitBest(ctx context.Context, playerID string, boards []domain.BoardKey, score int64, at time.Time) ([]domain.BoardResult, error)
	PlayerRank(ctx context.Context, board domain.BoardKey, playerID string) (*domain.LeaderboardEntry, error)
	// Range returns entries by 0-indexed rank, stop inclusive; a negative stop means the end
	Range(ctx context.Context, board domain.BoardKey, start, stop int64) ([]domain.LeaderboardEntry, error)
	Count(ctx context.Context, board domain.BoardKey) (int64, error)
	Reset(ctx context.Context, boards []domain.BoardKey) error
	Boards(ctx context.Context) ([]domain.BoardKey, error)
}
