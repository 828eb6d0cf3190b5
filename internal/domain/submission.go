package domain

import (
	"fmt"
	"regexp"
)

// InputKind classifies an input event
type InputKind string

const (
	InputKindDirection InputKind = "direction"
	InputKindAction    InputKind = "action"
)

// Valid reports whether k is a known kind
func (k InputKind) Valid() bool {
	return k == InputKindDirection || k == InputKindAction
}

// InputPayload is the fixed set of controller buttons captured per event
type InputPayload struct {
	Up        bool `json:"up"`
	Down      bool `json:"down"`
	Left      bool `json:"left"`
	Right     bool `json:"right"`
	Action    bool `json:"action"`
	Secondary bool `json:"secondary"`
}

// InputEvent is a single timestamped entry in a replay log.
// T is the offset in milliseconds from session start.
type InputEvent struct {
	T       int64        `json:"t"`
	Kind    InputKind    `json:"kind"`
	Payload InputPayload `json:"payload"`
}

// MaxDurationMillis caps a claimed play duration. No session lives this long.
const MaxDurationMillis int64 = 24 * 60 * 60 * 1000

// ScoreSubmission is a client's claim for a finished session
type ScoreSubmission struct {
	SessionID  string       `json:"session_id" validate:"required,max=64"`
	GameID     string       `json:"game_id" validate:"required,max=64"`
	Seed       uint64       `json:"seed,string"`
	Inputs     []InputEvent `json:"inputs" validate:"dive"`
	FinalScore int64        `json:"final_score" validate:"gte=0"`
	Duration   int64        `json:"duration" validate:"gt=0,lte=86400000"`
	Checksum   string       `json:"checksum" validate:"required,len=64,hexadecimal"`
}

// SubmitScoreRequest is the wire form of a submission. Seed, final score and
// duration are pointers so an absent field fails decoding instead of reading as zero.
type SubmitScoreRequest struct {
	SessionID  string       `json:"session_id" validate:"required,max=64"`
	GameID     string       `json:"game_id" validate:"required,max=64"`
	Seed       *uint64      `json:"seed,string" validate:"required"`
	Inputs     []InputEvent `json:"inputs" validate:"dive"`
	FinalScore *int64       `json:"final_score" validate:"required,gte=0"`
	Duration   *int64       `json:"duration" validate:"required,gt=0,lte=86400000"`
	Checksum   string       `json:"checksum" validate:"required,len=64,hexadecimal"`
}

// Submission converts a request whose required fields were checked
func (r *SubmitScoreRequest) Submission() (ScoreSubmission, error) {
	if r.Seed == nil || r.FinalScore == nil || r.Duration == nil {
		return ScoreSubmission{}, fmt.Errorf("%w: seed, final_score and duration are required", ErrInvalidArgument)
	}
	return ScoreSubmission{
		SessionID:  r.SessionID,
		GameID:     r.GameID,
		Seed:       *r.Seed,
		Inputs:     r.Inputs,
		FinalScore: *r.FinalScore,
		Duration:   *r.Duration,
		Checksum:   r.Checksum,
	}, nil
}

var checksumPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Validate checks the fixed schema before any session state is touched.
// maxInputs <= 0 disables the event count cap.
func (s *ScoreSubmission) Validate(maxInputs int) error {
	if s.SessionID == "" || s.GameID == "" {
		return fmt.Errorf("%w: session_id and game_id are required", ErrInvalidArgument)
	}
	if s.FinalScore < 0 {
		return fmt.Errorf("%w: final_score must be non-negative", ErrInvalidArgument)
	}
	if s.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidArgument)
	}
	if s.Duration > MaxDurationMillis {
		return fmt.Errorf("%w: duration %dms exceeds limit of %dms", ErrInvalidArgument, s.Duration, MaxDurationMillis)
	}
	if !checksumPattern.MatchString(s.Checksum) {
		return fmt.Errorf("%w: checksum must be 64 lowercase hex characters", ErrInvalidArgument)
	}
	if maxInputs > 0 && len(s.Inputs) > maxInputs {
		return fmt.Errorf("%w: %d inputs exceeds limit of %d", ErrInvalidArgument, len(s.Inputs), maxInputs)
	}

	var prev int64
	for i, ev := range s.Inputs {
		if !ev.Kind.Valid() {
			return fmt.Errorf("%w: input %d has unknown kind %q", ErrInvalidArgument, i, ev.Kind)
		}
		if ev.T < 0 || ev.T < prev {
			return fmt.Errorf("%w: input %d offset %d is out of order", ErrInvalidArgument, i, ev.T)
		}
		if ev.T > s.Duration {
			return fmt.Errorf("%w: input %d offset %d is beyond duration %d", ErrInvalidArgument, i, ev.T, s.Duration)
		}
		prev = ev.T
	}
	return nil
}

// Flag is a fatal or advisory signal attached to a validation outcome
type Flag string

const (
	FlagSessionInvalid     Flag = "session_invalid"
	FlagChecksumMismatch   Flag = "checksum_mismatch"
	FlagScoreImplausible   Flag = "score_implausible"
	FlagInputTimingRegular Flag = "input_timing_regular"
)

// Rejection reasons that accompany a flag
const (
	ReasonNotFound              = "not_found"
	ReasonExpired               = "expired"
	ReasonAlreadyUsed           = "already_used"
	ReasonSeedMismatch          = "seed_mismatch"
	ReasonGameMismatch          = "game_mismatch"
	ReasonDigestMismatch        = "digest_mismatch"
	ReasonScoreExceedsBound     = "score_exceeds_bound"
	ReasonDurationExceedsTTL    = "duration_exceeds_ttl"
	ReasonDurationExceedsElapse = "duration_exceeds_elapsed"
)

// ValidationResult is the outcome of verifying one submission
type ValidationResult struct {
	Accepted bool   `json:"accepted"`
	Verified bool   `json:"verified"`
	Flags    []Flag `json:"flags"`
	Reason   string `json:"reason,omitempty"`
	MaxScore int64  `json:"max_score"`
	// HeldForReview marks a bound violation kept for manual review instead of a hard reject
	HeldForReview bool     `json:"held_for_review,omitempty"`
	Session       *Session `json:"-"`
	// Err holds the taxonomy error for a rejected submission
	Err error `json:"-"`
}

// HasFlag reports whether f was raised
func (r *ValidationResult) HasFlag(f Flag) bool {
	for _, got := range r.Flags {
		if got == f {
			return true
		}
	}
	return false
}

// FlagStrings returns the flags as plain strings
func (r *ValidationResult) FlagStrings() []string {
	out := make([]string, len(r.Flags))
	for i, f := range r.Flags {
		out[i] = string(f)
	}
	return out
}

// SubmitScoreResult is the response returned to the client for submitScore
type SubmitScoreResult struct {
	Success  bool          `json:"success"`
	Verified bool          `json:"verified"`
	Score    int64         `json:"score"`
	NewBest  bool          `json:"new_best"`
	Rank     *int64        `json:"rank,omitempty"`
	Flags    []string      `json:"flags,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Boards   []BoardResult `json:"boards,omitempty"`
	// HeldForReview is set when an unranked submission awaits manual review
	HeldForReview bool `json:"held_for_review,omitempty"`
	// Err holds the taxonomy error when Success is false
	Err error `json:"-"`
}
