package session

import (
	"context"
	"time"

	"github.com/arcade-scores/internal/domain"
)

// Store persists sessions. Consume must be atomic per session id: among concurrent
// callers exactly one observes success.
type Store interface {
	// Create persists a new unconsumed session
	Create(ctx context.Context, s *domain.Session) error

	// Consume marks the session consumed and returns it, or fails with
	// ErrSessionNotFound, ErrSessionExpired or ErrSessionAlreadyUsed
	Consume(ctx context.Context, sessionID string, now time.Time) (*domain.Session, error)

	// Get returns a session without mutating it
	Get(ctx context.Context, sessionID string) (*domain.Session, error)

	// PurgeExpired removes sessions whose retention window has passed
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// Purgeable reports whether s may be dropped at now given the retention window
func Purgeable(s *domain.Session, now time.Time, retention time.Duration) bool {
	if now.After(s.ExpiresAt.Add(retention)) {
		return true
	}
	return s.ConsumedAt != nil && now.After(s.ConsumedAt.Add(retention))
}
