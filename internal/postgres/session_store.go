package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arcade-scores/internal/domain"
)

// SessionStore keeps sessions in the game_sessions table. Consume relies on the row lock
// taken by a conditional UPDATE, so concurrent redeemers serialize on the row and only the
// first sees it unconsumed.
type SessionStore struct {
	repo      *Repository
	retention time.Duration
}

// NewSessionStore creates a session store backed by repo
func NewSessionStore(repo *Repository, retention time.Duration) *SessionStore {
	return &SessionStore{repo: repo, retention: retention}
}

const sessionColumns = `id, player_id, game_id, mode, tournament_id, seed, created_at, expires_at, consumed, consumed_at`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		s          domain.Session
		seed       int64
		consumedAt *time.Time
	)
	err := row.Scan(
		&s.ID,
		&s.PlayerID,
		&s.GameID,
		&s.Mode,
		&s.TournamentID,
		&seed,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.Consumed,
		&consumedAt,
	)
	if err != nil {
		return nil, err
	}

	// seeds are stored as the bit pattern of a signed BIGINT
	s.Seed = uint64(seed)
	s.CreatedAt = s.CreatedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	if consumedAt != nil {
		at := consumedAt.UTC()
		s.ConsumedAt = &at
	}
	return &s, nil
}

// Create stores a new session
func (st *SessionStore) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO game_sessions (id, player_id, game_id, mode, tournament_id, seed, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := st.repo.pool.Exec(ctx, query,
		s.ID,
		s.PlayerID,
		s.GameID,
		string(s.Mode),
		s.TournamentID,
		int64(s.Seed),
		s.CreatedAt,
		s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Consume atomically redeems a session
func (st *SessionStore) Consume(ctx context.Context, sessionID string, now time.Time) (*domain.Session, error) {
	query := `
		UPDATE game_sessions
		SET consumed = TRUE, consumed_at = $2
		WHERE id = $1 AND NOT consumed AND expires_at >= $2
		RETURNING ` + sessionColumns

	sess, err := scanSession(st.repo.pool.QueryRow(ctx, query, sessionID, now))
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consuming session: %w", err)
	}

	// nothing updated: find out why
	var consumed bool
	err = st.repo.pool.QueryRow(ctx,
		`SELECT consumed FROM game_sessions WHERE id = $1`, sessionID,
	).Scan(&consumed)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, domain.ErrSessionNotFound
	case err != nil:
		return nil, fmt.Errorf("checking session: %w", err)
	case consumed:
		return nil, domain.ErrSessionAlreadyUsed
	default:
		return nil, domain.ErrSessionExpired
	}
}

// Get returns a session without consuming it
func (st *SessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM game_sessions WHERE id = $1`
	sess, err := scanSession(st.repo.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// PurgeExpired deletes sessions past their retention window
func (st *SessionStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		DELETE FROM game_sessions
		WHERE expires_at < $1 OR (consumed AND consumed_at < $1)
	`
	result, err := st.repo.pool.Exec(ctx, query, now.Add(-st.retention))
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}
	return int(result.RowsAffected()), nil
}
