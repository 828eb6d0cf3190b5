package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
)

// Submission is an accepted score to be ranked
type Submission struct {
	PlayerID     string
	GameID       string
	Mode         domain.SessionMode
	TournamentID string
	Score        int64
	AchievedAt   time.Time
}

// Service ranks accepted scores in every board a submission belongs to
type Service struct {
	store     Store
	gameIDs   []string
	cfg       config.LeaderboardConfig
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewService creates a new leaderboard service
func NewService(store Store, gameIDs []string, cfg config.LeaderboardConfig, opTimeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		gameIDs:   gameIDs,
		cfg:       cfg,
		opTimeout: opTimeout,
		logger:    logger,
	}
}

// BoardsFor lists the boards a score for gameID is ranked in: the game's own periods, the
// aggregate periods, and for tournament play the tournament's all-time board.
func BoardsFor(gameID string, mode domain.SessionMode, tournamentID string) []domain.BoardKey {
	boards := make([]domain.BoardKey, 0, 2*len(domain.Periods)+1)
	for _, p := range domain.Periods {
		boards = append(boards, domain.BoardKey{Scope: gameID, Period: p})
	}
	for _, p := range domain.Periods {
		boards = append(boards, domain.BoardKey{Scope: domain.ScopeAllGames, Period: p})
	}
	if mode == domain.SessionModeTournament && tournamentID != "" {
		boards = append(boards, domain.BoardKey{Scope: domain.TournamentScope(tournamentID), Period: domain.PeriodAllTime})
	}
	return boards
}

// Submit records sub in all of its boards atomically and returns the standing in each,
// in BoardsFor order.
func (s *Service) Submit(ctx context.Context, sub Submission) ([]domain.BoardResult, error) {
	if sub.PlayerID == "" || sub.GameID == "" {
		return nil, fmt.Errorf("%w: player and game are required", domain.ErrInvalidArgument)
	}
	if sub.Score < 0 {
		return nil, fmt.Errorf("%w: score must be non-negative", domain.ErrInvalidArgument)
	}
	return s.submit(ctx, sub.PlayerID, BoardsFor(sub.GameID, sub.Mode, sub.TournamentID), sub.Score, sub.AchievedAt)
}

func (s *Service) submit(ctx context.Context, playerID string, boards []domain.BoardKey, score int64, at time.Time) ([]domain.BoardResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	results, err := s.store.SubmitBest(ctx, playerID, boards, score, at)
	if err != nil {
		return nil, fmt.Errorf("submitting score: %w", unavailable(err))
	}

	for _, r := range results {
		if r.Improved {
			s.logger.Debug("new personal best",
				"board", r.Board.String(),
				"player_id", playerID,
				"score", r.Best,
				"rank", r.Rank,
			)
		}
	}
	return results, nil
}

// Top returns the first limit entries of a board
func (s *Service) Top(ctx context.Context, board domain.BoardKey, limit int) ([]domain.LeaderboardEntry, error) {
	if err := s.checkBoard(board); err != nil {
		return nil, err
	}
	limit = s.clampLimit(limit)

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	entries, err := s.store.Range(ctx, board, 0, int64(limit-1))
	if err != nil {
		return nil, fmt.Errorf("getting top entries: %w", unavailable(err))
	}
	return entries, nil
}

// PlayerRank returns a player's entry in a board
func (s *Service) PlayerRank(ctx context.Context, board domain.BoardKey, playerID string) (*domain.LeaderboardEntry, error) {
	if err := s.checkBoard(board); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	entry, err := s.store.PlayerRank(ctx, board, playerID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("getting player rank: %w", unavailable(err))
	}
	return entry, nil
}

// Around returns up to radius entries on each side of a player
func (s *Service) Around(ctx context.Context, board domain.BoardKey, playerID string, radius int) ([]domain.LeaderboardEntry, error) {
	if radius <= 0 {
		radius = 5
	}
	if s.cfg.AroundMax > 0 && radius > s.cfg.AroundMax {
		radius = s.cfg.AroundMax
	}

	entry, err := s.PlayerRank(ctx, board, playerID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	start := max(entry.Rank-1-int64(radius), 0)
	stop := entry.Rank - 1 + int64(radius)
	entries, err := s.store.Range(ctx, board, start, stop)
	if err != nil {
		return nil, fmt.Errorf("getting entries around player: %w", unavailable(err))
	}
	return entries, nil
}

// Stats returns the size and top score of a board
func (s *Service) Stats(ctx context.Context, board domain.BoardKey) (*domain.BoardStats, error) {
	if err := s.checkBoard(board); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	count, err := s.store.Count(ctx, board)
	if err != nil {
		return nil, fmt.Errorf("counting entries: %w", unavailable(err))
	}

	stats := &domain.BoardStats{Board: board, TotalPlayers: count}
	if count > 0 {
		top, err := s.store.Range(ctx, board, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("getting top entry: %w", unavailable(err))
		}
		if len(top) > 0 {
			stats.TopScore = top[0].Score
		}
	}
	return stats, nil
}

// ResetPeriod clears every per-game and aggregate board of a periodic window
func (s *Service) ResetPeriod(ctx context.Context, period domain.Period) error {
	if period == domain.PeriodAllTime {
		return fmt.Errorf("%w: the all-time period is never reset", domain.ErrInvalidArgument)
	}
	if _, err := domain.ParsePeriod(string(period)); err != nil {
		return err
	}

	boards := make([]domain.BoardKey, 0, len(s.gameIDs)+1)
	for _, id := range s.gameIDs {
		boards = append(boards, domain.BoardKey{Scope: id, Period: period})
	}
	boards = append(boards, domain.BoardKey{Scope: domain.ScopeAllGames, Period: period})

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.store.Reset(ctx, boards); err != nil {
		return fmt.Errorf("resetting %s boards: %w", period, unavailable(err))
	}

	s.logger.Info("period rolled over", "period", period, "boards", len(boards))
	return nil
}

// Boards lists every non-empty board
func (s *Service) Boards(ctx context.Context) ([]domain.BoardKey, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	boards, err := s.store.Boards(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing boards: %w", unavailable(err))
	}
	return boards, nil
}

// Entries returns every entry of a board in rank order
func (s *Service) Entries(ctx context.Context, board domain.BoardKey) ([]domain.LeaderboardEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	entries, err := s.store.Range(ctx, board, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("getting entries: %w", unavailable(err))
	}
	return entries, nil
}

// Restore merges entries into a board with the usual improve-only rule and returns how many
// replaced the stored best.
func (s *Service) Restore(ctx context.Context, board domain.BoardKey, entries []domain.LeaderboardEntry) (int, error) {
	restored := 0
	for _, e := range entries {
		results, err := s.submit(ctx, e.PlayerID, []domain.BoardKey{board}, e.Score, e.AchievedAt)
		if err != nil {
			return restored, err
		}
		if results[0].Improved {
			restored++
		}
	}
	return restored, nil
}

func (s *Service) checkBoard(board domain.BoardKey) error {
	if _, err := domain.ParsePeriod(string(board.Period)); err != nil {
		return err
	}
	switch {
	case board.Scope == domain.ScopeAllGames:
		return nil
	case strings.HasPrefix(board.Scope, domain.TournamentScope("")):
		if board.Period != domain.PeriodAllTime || board.Scope == domain.TournamentScope("") {
			return fmt.Errorf("%w: tournament boards are all-time only", domain.ErrInvalidArgument)
		}
		return nil
	case slices.Contains(s.gameIDs, board.Scope):
		return nil
	}
	return fmt.Errorf("%w: %w %q", domain.ErrInvalidArgument, domain.ErrUnknownGame, board.Scope)
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit <= 0 {
		limit = 10
	}
	if s.cfg.MaxLimit > 0 && limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	return limit
}

func unavailable(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
