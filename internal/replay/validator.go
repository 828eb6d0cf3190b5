// Package replay verifies score submissions against their session, replay digest and
// plausibility bound.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcade-scores/internal/checksum"
	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/plausibility"
)

// State is a step of the verification state machine
type State string

const (
	StateReceived        State = "received"
	StateSessionChecked  State = "session_checked"
	StateChecksumChecked State = "checksum_checked"
	StateBoundChecked    State = "bound_checked"
	StateAccepted        State = "accepted"
	StateRejected        State = "rejected"
)

// SessionConsumer redeems sessions exactly once
type SessionConsumer interface {
	Consume(ctx context.Context, sessionID string) (*domain.Session, error)
	Now() time.Time
}

// Validator runs submissions through
// RECEIVED -> SESSION_CHECKED -> CHECKSUM_CHECKED -> BOUND_CHECKED -> ACCEPTED | REJECTED
type Validator struct {
	sessions SessionConsumer
	bounder  *plausibility.Bounder
	games    map[string]config.GameConfig
	cfg      config.ValidationConfig
	logger   *slog.Logger
}

// NewValidator creates a new replay validator
func NewValidator(
	sessions SessionConsumer,
	bounder *plausibility.Bounder,
	games map[string]config.GameConfig,
	cfg config.ValidationConfig,
	logger *slog.Logger,
) *Validator {
	return &Validator{
		sessions: sessions,
		bounder:  bounder,
		games:    games,
		cfg:      cfg,
		logger:   logger,
	}
}

// Verify decides on a submission. Malformed submissions fail with ErrInvalidArgument
// before any session is touched. Infrastructure failures are returned as errors; every
// local decision is returned as a result, with Err set on rejection.
//
// Once the schema is valid the session is consumed exactly once, whatever the outcome.
func (v *Validator) Verify(ctx context.Context, sub domain.ScoreSubmission) (*domain.ValidationResult, error) {
	if err := sub.Validate(v.cfg.MaxInputs); err != nil {
		return nil, err
	}
	if _, ok := v.games[sub.GameID]; !ok {
		return nil, fmt.Errorf("%w: %w %q", domain.ErrInvalidArgument, domain.ErrUnknownGame, sub.GameID)
	}

	// RECEIVED -> SESSION_CHECKED
	sess, err := v.sessions.Consume(ctx, sub.SessionID)
	if err != nil {
		if !domain.IsSessionError(err) {
			return nil, err
		}
		return v.reject(sub, nil, StateReceived, domain.FlagSessionInvalid, sessionReason(err), err), nil
	}

	// SESSION_CHECKED -> CHECKSUM_CHECKED
	if sub.Seed != sess.Seed {
		return v.reject(sub, sess, StateSessionChecked, domain.FlagChecksumMismatch, domain.ReasonSeedMismatch, domain.ErrChecksumMismatch), nil
	}
	if sub.GameID != sess.GameID {
		return v.reject(sub, sess, StateSessionChecked, domain.FlagChecksumMismatch, domain.ReasonGameMismatch, domain.ErrChecksumMismatch), nil
	}
	if !checksum.Equal(sub.Checksum, checksum.Digest(sub.Seed, sub.Inputs)) {
		return v.reject(sub, sess, StateSessionChecked, domain.FlagChecksumMismatch, domain.ReasonDigestMismatch, domain.ErrChecksumMismatch), nil
	}

	// CHECKSUM_CHECKED -> BOUND_CHECKED
	verdict, err := v.bounder.Check(sess.GameID, sub.Duration, len(sub.Inputs), sub.FinalScore)
	if err != nil {
		if errors.Is(err, domain.ErrScoreImplausible) {
			return v.reject(sub, sess, StateChecksumChecked, domain.FlagScoreImplausible, domain.ReasonDurationExceedsTTL, err), nil
		}
		return nil, err
	}

	elapsed := v.sessions.Now().Sub(sess.CreatedAt) + v.cfg.DurationGrace
	if sub.Duration > elapsed.Milliseconds() {
		res := v.reject(sub, sess, StateChecksumChecked, domain.FlagScoreImplausible, domain.ReasonDurationExceedsElapse, domain.ErrScoreImplausible)
		res.MaxScore = verdict.MaxScore
		return res, nil
	}

	regular := plausibility.RegularTiming(sub.Inputs, v.cfg.RegularityMinEvents, v.cfg.RegularityMaxStddev)

	if !verdict.Plausible {
		if !v.cfg.SoftFlagImplausible() {
			res := v.reject(sub, sess, StateChecksumChecked, domain.FlagScoreImplausible, verdict.Reason, domain.ErrScoreImplausible)
			res.MaxScore = verdict.MaxScore
			return res, nil
		}
		return v.holdForReview(sub, sess, verdict, regular), nil
	}

	// BOUND_CHECKED -> ACCEPTED
	result := &domain.ValidationResult{
		Accepted: true,
		Verified: true,
		Flags:    []domain.Flag{},
		MaxScore: verdict.MaxScore,
		Session:  sess,
	}
	if regular {
		result.Flags = append(result.Flags, domain.FlagInputTimingRegular)
	}

	v.logger.Info("submission accepted",
		"session_id", sess.ID,
		"player_id", sess.PlayerID,
		"game_id", sess.GameID,
		"score", sub.FinalScore,
		"max_score", verdict.MaxScore,
		"verified", result.Verified,
		"flags", result.FlagStrings(),
	)
	return result, nil
}

// holdForReview keeps a bound violation out of the rankings but records it as a
// soft flag rather than a hard rejection
func (v *Validator) holdForReview(sub domain.ScoreSubmission, sess *domain.Session, verdict plausibility.Verdict, regular bool) *domain.ValidationResult {
	flags := []domain.Flag{domain.FlagScoreImplausible}
	if regular {
		flags = append(flags, domain.FlagInputTimingRegular)
	}

	v.logger.Warn("submission held for review",
		"session_id", sess.ID,
		"player_id", sess.PlayerID,
		"game_id", sess.GameID,
		"reason", verdict.Reason,
		"score", sub.FinalScore,
		"max_score", verdict.MaxScore,
	)

	return &domain.ValidationResult{
		Accepted:      false,
		Verified:      false,
		Flags:         flags,
		Reason:        verdict.Reason,
		MaxScore:      verdict.MaxScore,
		HeldForReview: true,
		Session:       sess,
		Err:           domain.ErrScoreImplausible,
	}
}

func (v *Validator) reject(sub domain.ScoreSubmission, sess *domain.Session, at State, flag domain.Flag, reason string, err error) *domain.ValidationResult {
	attrs := []any{
		"session_id", sub.SessionID,
		"game_id", sub.GameID,
		"state", at,
		"flag", flag,
		"reason", reason,
		"score", sub.FinalScore,
	}
	if sess != nil {
		attrs = append(attrs, "player_id", sess.PlayerID)
	}

	if flag == domain.FlagChecksumMismatch {
		v.logger.Warn("possible tamper attempt: submission rejected", attrs...)
	} else {
		v.logger.Warn("submission rejected", attrs...)
	}

	return &domain.ValidationResult{
		Accepted: false,
		Verified: false,
		Flags:    []domain.Flag{flag},
		Reason:   reason,
		Session:  sess,
		Err:      err,
	}
}

func sessionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionExpired):
		return domain.ReasonExpired
	case errors.Is(err, domain.ErrSessionAlreadyUsed):
		return domain.ReasonAlreadyUsed
	default:
		return domain.ReasonNotFound
	}
}
