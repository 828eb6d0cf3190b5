// Package plausibility bounds the score a session could legitimately produce.
package plausibility

import (
	"fmt"
	"math"
	"time"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
)

// Verdict is the outcome of a bound check
type Verdict struct {
	MaxScore  int64
	Plausible bool
	Reason    string
}

// Bounder computes conservative per-game score ceilings from the rate table
type Bounder struct {
	games map[string]config.GameConfig
	grace time.Duration
}

// NewBounder creates a bounder over the configured games. grace widens the
// session TTL window a claimed duration may occupy.
func NewBounder(games map[string]config.GameConfig, grace time.Duration) *Bounder {
	return &Bounder{games: games, grace: grace}
}

// MaxPlausibleScore returns the highest score gameID can produce in duration
// milliseconds with inputCount events.
//
// Time and input caps are both ceilings, so when a game configures both the
// smaller one applies. The base allowance is added on top.
func (b *Bounder) MaxPlausibleScore(gameID string, duration int64, inputCount int) (int64, error) {
	game, ok := b.games[gameID]
	if !ok {
		return 0, fmt.Errorf("%w: %w %q", domain.ErrInvalidArgument, domain.ErrUnknownGame, gameID)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%w: duration must be positive", domain.ErrInvalidArgument)
	}
	if inputCount < 0 {
		return 0, fmt.Errorf("%w: input count must be non-negative", domain.ErrInvalidArgument)
	}
	if window := game.SessionTTL + b.grace; duration > window.Milliseconds() {
		return 0, fmt.Errorf("%w: %s: %dms exceeds %s", domain.ErrScoreImplausible, domain.ReasonDurationExceedsTTL, duration, window)
	}

	limit := math.Inf(1)
	if game.PointsPerSecond > 0 {
		limit = math.Ceil(game.PointsPerSecond * float64(duration) / 1000)
	}
	if game.PointsPerInput > 0 {
		limit = math.Min(limit, math.Ceil(game.PointsPerInput*float64(inputCount)))
	}
	limit += float64(game.BaseAllowance)

	if limit >= math.MaxInt64 || math.IsInf(limit, 1) {
		return math.MaxInt64, nil
	}
	return int64(limit), nil
}

// Check bounds finalScore for a submission of the given shape
func (b *Bounder) Check(gameID string, duration int64, inputCount int, finalScore int64) (Verdict, error) {
	if finalScore < 0 {
		return Verdict{}, fmt.Errorf("%w: final score must be non-negative", domain.ErrInvalidArgument)
	}

	ceiling, err := b.MaxPlausibleScore(gameID, duration, inputCount)
	if err != nil {
		return Verdict{}, err
	}

	v := Verdict{MaxScore: ceiling, Plausible: finalScore <= ceiling}
	if !v.Plausible {
		v.Reason = domain.ReasonScoreExceedsBound
	}
	return v, nil
}
