package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcade-scores/internal/domain"
)

type memEntry struct {
	session    domain.Session
	consumed   atomic.Bool
	consumedAt atomic.Int64
}

func (e *memEntry) snapshot() *domain.Session {
	s := e.session
	if e.consumed.Load() {
		s.Consumed = true
		if ms := e.consumedAt.Load(); ms != 0 {
			at := time.UnixMilli(ms)
			s.ConsumedAt = &at
		}
	}
	return &s
}

// MemoryStore keeps sessions in process. Each session carries its own consumed flag,
// so Consume is a compare-and-swap on that flag and never takes a store-wide lock.
type MemoryStore struct {
	sessions  sync.Map
	retention time.Duration
}

// NewMemoryStore creates an in-memory session store
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{retention: retention}
}

// Create persists a new session
func (m *MemoryStore) Create(_ context.Context, s *domain.Session) error {
	e := &memEntry{session: *s}
	e.session.Consumed = false
	e.session.ConsumedAt = nil
	if _, loaded := m.sessions.LoadOrStore(s.ID, e); loaded {
		return fmt.Errorf("%w: duplicate session id %s", domain.ErrInvalidArgument, s.ID)
	}
	return nil
}

// Consume atomically marks a session consumed
func (m *MemoryStore) Consume(_ context.Context, sessionID string, now time.Time) (*domain.Session, error) {
	v, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	e := v.(*memEntry)

	if e.consumed.Load() {
		return nil, domain.ErrSessionAlreadyUsed
	}
	if e.session.Expired(now) {
		return nil, domain.ErrSessionExpired
	}
	if !e.consumed.CompareAndSwap(false, true) {
		return nil, domain.ErrSessionAlreadyUsed
	}
	e.consumedAt.Store(now.UnixMilli())
	return e.snapshot(), nil
}

// Get returns a session snapshot
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	v, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return v.(*memEntry).snapshot(), nil
}

// PurgeExpired drops sessions past their retention window
func (m *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	purged := 0
	m.sessions.Range(func(key, value any) bool {
		if Purgeable(value.(*memEntry).snapshot(), now, m.retention) {
			m.sessions.Delete(key)
			purged++
		}
		return true
	})
	return purged, nil
}
