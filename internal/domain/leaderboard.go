package domain

import (
	"fmt"
	"strings"
	"time"
)

// Period represents a leaderboard scope window
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodAllTime Period = "alltime"
)

// Periods lists every period a game score is ranked in
var Periods = []Period{PeriodDaily, PeriodWeekly, PeriodAllTime}

// ParsePeriod converts a string into a Period
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(s)); p {
	case PeriodDaily, PeriodWeekly, PeriodAllTime:
		return p, nil
	case "all-time", "all_time":
		return PeriodAllTime, nil
	}
	return "", fmt.Errorf("%w: unknown period %q", ErrInvalidArgument, s)
}

// ScopeAllGames is the aggregate scope across every game
const ScopeAllGames = "all"

// tournamentScopePrefix marks per-tournament scopes
const tournamentScopePrefix = "tournament:"

// TournamentScope returns the scope of a tournament board
func TournamentScope(tournamentID string) string {
	return tournamentScopePrefix + tournamentID
}

// BoardKey identifies one ranked set: a scope (game id, aggregate or tournament) and a period
type BoardKey struct {
	Scope  string `json:"scope"`
	Period Period `json:"period"`
}

// String renders the key as scope:period
func (k BoardKey) String() string {
	return k.Scope + ":" + string(k.Period)
}

// ParseBoardKey is the inverse of BoardKey.String
func ParseBoardKey(s string) (BoardKey, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return BoardKey{}, fmt.Errorf("%w: malformed board key %q", ErrInvalidArgument, s)
	}
	period, err := ParsePeriod(s[i+1:])
	if err != nil {
		return BoardKey{}, err
	}
	return BoardKey{Scope: s[:i], Period: period}, nil
}

// LeaderboardEntry represents a single entry in a ranked set
type LeaderboardEntry struct {
	Rank       int64     `json:"rank"`
	PlayerID   string    `json:"player_id"`
	Score      int64     `json:"score"`
	AchievedAt time.Time `json:"achieved_at"`
}

// Before reports whether e ranks ahead of o: higher score first, then the earlier timestamp,
// then player id so the order is total.
func (e LeaderboardEntry) Before(o LeaderboardEntry) bool {
	if e.Score != o.Score {
		return e.Score > o.Score
	}
	if !e.AchievedAt.Equal(o.AchievedAt) {
		return e.AchievedAt.Before(o.AchievedAt)
	}
	return e.PlayerID < o.PlayerID
}

// BoardResult is a player's standing in one board after a submit
type BoardResult struct {
	Board    BoardKey `json:"board"`
	Improved bool     `json:"improved"`
	Rank     int64    `json:"rank"`
	Best     int64    `json:"best"`
}

// RankUpdate is pushed to live subscribers when a player's best improves
type RankUpdate struct {
	Board     BoardKey  `json:"board"`
	PlayerID  string    `json:"player_id"`
	Score     int64     `json:"score"`
	Rank      int64     `json:"rank"`
	Timestamp time.Time `json:"timestamp"`
}

// BoardStats contains statistics about a ranked set
type BoardStats struct {
	Board        BoardKey `json:"board"`
	TotalPlayers int64    `json:"total_players"`
	TopScore     int64    `json:"top_score,omitempty"`
}

// ScoreEvent is published for every accepted submission
type ScoreEvent struct {
	SessionID    string        `json:"session_id"`
	PlayerID     string        `json:"player_id"`
	GameID       string        `json:"game_id"`
	Mode         SessionMode   `json:"mode"`
	TournamentID string        `json:"tournament_id,omitempty"`
	Score        int64         `json:"score"`
	Verified     bool          `json:"verified"`
	Flags        []string      `json:"flags,omitempty"`
	Boards       []BoardResult `json:"boards"`
	Timestamp    time.Time     `json:"timestamp"`
}

// AuditRecord captures one validation outcome for later review
type AuditRecord struct {
	SessionID  string   `json:"session_id"`
	PlayerID   string   `json:"player_id,omitempty"`
	GameID     string   `json:"game_id"`
	FinalScore int64    `json:"final_score"`
	Duration   int64    `json:"duration"`
	InputCount int      `json:"input_count"`
	MaxScore   int64    `json:"max_score"`
	Accepted   bool     `json:"accepted"`
	Verified   bool     `json:"verified"`
	Flags      []string `json:"flags,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	// HeldForReview marks soft-flagged submissions awaiting manual review
	HeldForReview bool      `json:"held_for_review,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// RolloverCommand asks for the periodic boards of a period to be cleared
type RolloverCommand struct {
	Period    Period    `json:"period"`
	IssuedAt  time.Time `json:"issued_at"`
	RequestID string    `json:"request_id,omitempty"`
}
