package domain

import (
	"fmt"
	"time"
)

// SessionMode represents the kind of play grant a session carries
type SessionMode string

const (
	SessionModeRanked     SessionMode = "ranked"
	SessionModeTournament SessionMode = "tournament"
)

// Valid reports whether m is a known mode
func (m SessionMode) Valid() bool {
	return m == SessionModeRanked || m == SessionModeTournament
}

// Session is a one-time-use, seed-bound play grant
type Session struct {
	ID           string      `json:"session_id"`
	PlayerID     string      `json:"player_id"`
	GameID       string      `json:"game_id"`
	Mode         SessionMode `json:"mode"`
	TournamentID string      `json:"tournament_id,omitempty"`
	Seed         uint64      `json:"seed,string"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	Consumed     bool        `json:"consumed"`
	ConsumedAt   *time.Time  `json:"consumed_at,omitempty"`
}

// Expired reports whether the session is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// CreateSessionRequest represents a request to open a play session
type CreateSessionRequest struct {
	PlayerID     string      `json:"player_id" validate:"required,max=128"`
	GameID       string      `json:"game_id" validate:"required,max=64"`
	Mode         SessionMode `json:"mode" validate:"required,oneof=ranked tournament"`
	TournamentID string      `json:"tournament_id,omitempty" validate:"required_if=Mode tournament,max=64"`
}

// Validate checks the request shape
func (r *CreateSessionRequest) Validate() error {
	if r.PlayerID == "" || r.GameID == "" {
		return fmt.Errorf("%w: player_id and game_id are required", ErrInvalidArgument)
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, r.Mode)
	}
	if r.Mode == SessionModeTournament && r.TournamentID == "" {
		return fmt.Errorf("%w: tournament_id is required for tournament mode", ErrInvalidArgument)
	}
	return nil
}

// CreateSessionResponse is the externally visible part of a new session
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Seed      uint64 `json:"seed,string"`
	ExpiresAt int64  `json:"expires_at"`
}

// NewCreateSessionResponse builds the response for s
func NewCreateSessionResponse(s *Session) CreateSessionResponse {
	return CreateSessionResponse{
		SessionID: s.ID,
		Seed:      s.Seed,
		ExpiresAt: s.ExpiresAt.UnixMilli(),
	}
}
