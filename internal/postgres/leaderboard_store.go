package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arcade-scores/internal/domain"
)

// LeaderboardStore keeps ranked sets in the leaderboard_entries table. It serves as the
// primary store for the postgres driver and as the durable mirror behind Redis.
type LeaderboardStore struct {
	repo *Repository
}

// NewLeaderboardStore creates a leaderboard store backed by repo
func NewLeaderboardStore(repo *Repository) *LeaderboardStore {
	return &LeaderboardStore{repo: repo}
}

// rankQuery counts the entries ordered ahead of a player's own: higher score, then the
// earlier timestamp, then the lower player id.
const rankQuery = `
	SELECT e.score, e.achieved_at, (
		SELECT COUNT(*) FROM leaderboard_entries o
		WHERE o.scope = e.scope AND o.period = e.period
		  AND (-o.score, o.achieved_at, o.player_id) < (-e.score, e.achieved_at, e.player_id)
	) + 1
	FROM leaderboard_entries e
	WHERE e.scope = $1 AND e.period = $2 AND e.player_id = $3
`

// SubmitBest upserts into every board in one transaction. Rows are written in board key
// order so two submits for the same player lock rows in the same sequence.
func (s *LeaderboardStore) SubmitBest(ctx context.Context, playerID string, boards []domain.BoardKey, score int64, at time.Time) ([]domain.BoardResult, error) {
	order := make([]int, len(boards))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return strings.Compare(boards[a].String(), boards[b].String())
	})

	upsert := `
		INSERT INTO leaderboard_entries (scope, period, player_id, score, achieved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope, period, player_id)
		DO UPDATE SET score = EXCLUDED.score, achieved_at = EXCLUDED.achieved_at
		WHERE leaderboard_entries.score < EXCLUDED.score
		RETURNING score
	`

	results := make([]domain.BoardResult, len(boards))
	err := pgx.BeginFunc(ctx, s.repo.pool, func(tx pgx.Tx) error {
		for _, i := range order {
			b := boards[i]

			var stored int64
			improved := true
			err := tx.QueryRow(ctx, upsert, b.Scope, string(b.Period), playerID, score, at).Scan(&stored)
			if errors.Is(err, pgx.ErrNoRows) {
				improved = false
			} else if err != nil {
				return fmt.Errorf("upserting %s: %w", b, err)
			}

			var (
				best     int64
				achieved time.Time
				rank     int64
			)
			if err := tx.QueryRow(ctx, rankQuery, b.Scope, string(b.Period), playerID).Scan(&best, &achieved, &rank); err != nil {
				return fmt.Errorf("ranking %s: %w", b, err)
			}
			results[i] = domain.BoardResult{Board: b, Improved: improved, Rank: rank, Best: best}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("submitting best score: %w", err)
	}
	return results, nil
}

// PlayerRank returns a player's rank and best score
func (s *LeaderboardStore) PlayerRank(ctx context.Context, board domain.BoardKey, playerID string) (*domain.LeaderboardEntry, error) {
	entry := domain.LeaderboardEntry{PlayerID: playerID}
	err := s.repo.pool.QueryRow(ctx, rankQuery, board.Scope, string(board.Period), playerID).Scan(
		&entry.Score,
		&entry.AchievedAt,
		&entry.Rank,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player rank: %w", err)
	}
	entry.AchievedAt = entry.AchievedAt.UTC()
	return &entry, nil
}

// Range returns entries between two 0-indexed ranks, stop inclusive
func (s *LeaderboardStore) Range(ctx context.Context, board domain.BoardKey, start, stop int64) ([]domain.LeaderboardEntry, error) {
	start = max(start, 0)
	var limit *int64
	if stop >= 0 {
		if stop < start {
			return []domain.LeaderboardEntry{}, nil
		}
		n := stop - start + 1
		limit = &n
	}

	query := `
		SELECT player_id, score, achieved_at
		FROM leaderboard_entries
		WHERE scope = $1 AND period = $2
		ORDER BY score DESC, achieved_at ASC, player_id ASC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.repo.pool.Query(ctx, query, board.Scope, string(board.Period), limit, start)
	if err != nil {
		return nil, fmt.Errorf("getting range: %w", err)
	}
	defer rows.Close()

	entries := []domain.LeaderboardEntry{}
	for rows.Next() {
		var entry domain.LeaderboardEntry
		if err := rows.Scan(&entry.PlayerID, &entry.Score, &entry.AchievedAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entry.AchievedAt = entry.AchievedAt.UTC()
		entry.Rank = start + int64(len(entries)) + 1
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of players in a board
func (s *LeaderboardStore) Count(ctx context.Context, board domain.BoardKey) (int64, error) {
	query := `SELECT COUNT(*) FROM leaderboard_entries WHERE scope = $1 AND period = $2`
	var count int64
	if err := s.repo.pool.QueryRow(ctx, query, board.Scope, string(board.Period)).Scan(&count); err != nil {
		return 0, fmt.Errorf("getting player count: %w", err)
	}
	return count, nil
}

// Reset clears boards in one transaction
func (s *LeaderboardStore) Reset(ctx context.Context, boards []domain.BoardKey) error {
	err := pgx.BeginFunc(ctx, s.repo.pool, func(tx pgx.Tx) error {
		for _, b := range boards {
			if _, err := tx.Exec(ctx,
				`DELETE FROM leaderboard_entries WHERE scope = $1 AND period = $2`,
				b.Scope, string(b.Period),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("resetting leaderboards: %w", err)
	}
	return nil
}

// Boards lists every board with at least one entry
func (s *LeaderboardStore) Boards(ctx context.Context) ([]domain.BoardKey, error) {
	rows, err := s.repo.pool.Query(ctx, `SELECT DISTINCT scope, period FROM leaderboard_entries ORDER BY scope, period`)
	if err != nil {
		return nil, fmt.Errorf("listing leaderboards: %w", err)
	}
	defer rows.Close()

	boards := []domain.BoardKey{}
	for rows.Next() {
		var b domain.BoardKey
		if err := rows.Scan(&b.Scope, &b.Period); err != nil {
			return nil, fmt.Errorf("scanning board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating boards: %w", err)
	}
	return boards, nil
}

// ReplaceBoard overwrites a board with entries in one transaction
func (s *LeaderboardStore) ReplaceBoard(ctx context.Context, board domain.BoardKey, entries []domain.LeaderboardEntry) error {
	err := pgx.BeginFunc(ctx, s.repo.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM leaderboard_entries WHERE scope = $1 AND period = $2`,
			board.Scope, string(board.Period),
		); err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		rows := make([][]any, len(entries))
		for i, e := range entries {
			rows[i] = []any{board.Scope, string(board.Period), e.PlayerID, e.Score, e.AchievedAt}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"leaderboard_entries"},
			[]string{"scope", "period", "player_id", "score", "achieved_at"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("replacing %s: %w", board, err)
	}
	return nil
}
