// Package session issues and redeems single-use play sessions.
package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
)

// Service issues sessions and is the single replay-prevention boundary
type Service struct {
	store     Store
	games     map[string]config.GameConfig
	opTimeout time.Duration
	logger    *slog.Logger
	now       func() time.Time
	newSeed   func() (uint64, error)
}

// NewService creates a new session service
func NewService(store Store, games map[string]config.GameConfig, opTimeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		games:     games,
		opTimeout: opTimeout,
		logger:    logger,
		now:       time.Now,
		newSeed:   randomSeed,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the current time from the service clock
func (s *Service) Now() time.Time {
	return s.now()
}

// Create issues a new session for the request
func (s *Service) Create(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	game, ok := s.games[req.GameID]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", domain.ErrInvalidArgument, domain.ErrUnknownGame, req.GameID)
	}
	if game.TournamentOnly && req.Mode != domain.SessionModeTournament {
		return nil, fmt.Errorf("%w: game %q only accepts tournament sessions", domain.ErrInvalidArgument, req.GameID)
	}

	seed, err := s.newSeed()
	if err != nil {
		return nil, fmt.Errorf("generating seed: %w", err)
	}

	now := s.now()
	sess := &domain.Session{
		ID:        uuid.NewString(),
		PlayerID:  req.PlayerID,
		GameID:    req.GameID,
		Mode:      req.Mode,
		Seed:      seed,
		CreatedAt: now,
		ExpiresAt: now.Add(game.SessionTTL),
	}
	if req.Mode == domain.SessionModeTournament {
		sess.TournamentID = req.TournamentID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.store.Create(ctx, sess); err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return nil, err
		}
		return nil, fmt.Errorf("creating session: %w", unavailable(err))
	}

	s.logger.Debug("session created",
		"session_id", sess.ID,
		"player_id", sess.PlayerID,
		"game_id", sess.GameID,
		"mode", sess.Mode,
		"expires_at", sess.ExpiresAt,
	)
	return sess, nil
}

// Consume redeems a session exactly once
func (s *Service) Consume(ctx context.Context, sessionID string) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	sess, err := s.store.Consume(ctx, sessionID, s.now())
	if err != nil {
		if domain.IsSessionError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("consuming session: %w", unavailable(err))
	}
	return sess, nil
}

// Get returns a session without consuming it
func (s *Service) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if domain.IsSessionError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("getting session: %w", unavailable(err))
	}
	return sess, nil
}

// Purge drops sessions past their retention window
func (s *Service) Purge(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	n, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", unavailable(err))
	}
	return n, nil
}

// unavailable marks infrastructure failures so callers can tell them from rejections
func unavailable(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

func randomSeed() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
