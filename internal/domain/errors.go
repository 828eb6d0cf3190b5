package domain

import "errors"

// Domain errors
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrUnknownGame        = errors.New("unknown game")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionAlreadyUsed = errors.New("session already used")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrScoreImplausible   = errors.New("score implausible")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrPlayerNotFound     = errors.New("player not found in leaderboard")
	ErrInternalError      = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound)
}

// IsSessionError reports whether err is one of the terminal session-layer rejections
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionAlreadyUsed)
}

// IsRejection reports whether err is a local validation decision rather than an infrastructure failure
func IsRejection(err error) bool {
	return IsSessionError(err) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrScoreImplausible)
}
