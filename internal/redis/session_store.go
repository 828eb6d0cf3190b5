package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcade-scores/internal/domain"
)

// consumeScript marks a session consumed unless it is missing, spent or expired.
// KEYS[1]: session hash. ARGV: now (ms), retention (ms).
// Returns {status} on refusal or {"ok", field, value, ...} on success.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'not_found'}
end
if redis.call('HGET', KEYS[1], 'consumed') == '1' then
  return {'already_used'}
end
if tonumber(ARGV[1]) > tonumber(redis.call('HGET', KEYS[1], 'expires_at')) then
  return {'expired'}
end
redis.call('HSET', KEYS[1], 'consumed', '1', 'consumed_at', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
local out = redis.call('HGETALL', KEYS[1])
table.insert(out, 1, 'ok')
return out
`)

// SessionStore keeps sessions as Redis hashes. Keys expire on their own once a session is past
// its TTL plus the retention window, so a replay after that reads as not found.
type SessionStore struct {
	client    *redis.Client
	retention time.Duration
	logger    *slog.Logger
}

// NewSessionStore creates a new Redis session store
func NewSessionStore(client *redis.Client, retention time.Duration, logger *slog.Logger) *SessionStore {
	if retention < time.Second {
		retention = time.Second
	}
	return &SessionStore{
		client:    client,
		retention: retention,
		logger:    logger,
	}
}

// sessionKey returns the Redis key for a session hash
func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// Create stores a new session
func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	key := sessionKey(sess.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"player_id", sess.PlayerID,
			"game_id", sess.GameID,
			"mode", string(sess.Mode),
			"tournament_id", sess.TournamentID,
			"seed", strconv.FormatUint(sess.Seed, 10),
			"created_at", sess.CreatedAt.UnixMilli(),
			"expires_at", sess.ExpiresAt.UnixMilli(),
			"consumed", "0",
		)
		pipe.PExpireAt(ctx, key, sess.ExpiresAt.Add(s.retention))
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Consume atomically redeems a session
func (s *SessionStore) Consume(ctx context.Context, sessionID string, now time.Time) (*domain.Session, error) {
	raw, err := consumeScript.Run(ctx, s.client,
		[]string{sessionKey(sessionID)},
		now.UnixMilli(), s.retention.Milliseconds(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("consuming session: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("consuming session: empty reply")
	}

	switch raw[0] {
	case "not_found":
		return nil, domain.ErrSessionNotFound
	case "already_used":
		return nil, domain.ErrSessionAlreadyUsed
	case "expired":
		return nil, domain.ErrSessionExpired
	}

	fields := make(map[string]string, (len(raw)-1)/2)
	for i := 1; i+1 < len(raw); i += 2 {
		fields[raw[i]] = raw[i+1]
	}
	return decodeSession(sessionID, fields)
}

// Get returns a session without consuming it
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return decodeSession(sessionID, fields)
}

// PurgeExpired is a no-op; Redis expires session keys itself
func (s *SessionStore) PurgeExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func decodeSession(sessionID string, fields map[string]string) (*domain.Session, error) {
	seed, err := strconv.ParseUint(fields["seed"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding session seed: %w", err)
	}
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding session created_at: %w", err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding session expires_at: %w", err)
	}

	sess := &domain.Session{
		ID:           sessionID,
		PlayerID:     fields["player_id"],
		GameID:       fields["game_id"],
		Mode:         domain.SessionMode(fields["mode"]),
		TournamentID: fields["tournament_id"],
		Seed:         seed,
		CreatedAt:    time.UnixMilli(createdAt).UTC(),
		ExpiresAt:    time.UnixMilli(expiresAt).UTC(),
		Consumed:     fields["consumed"] == "1",
	}
	if v, ok := fields["consumed_at"]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decoding session consumed_at: %w", err)
		}
		at := time.UnixMilli(ms).UTC()
		sess.ConsumedAt = &at
	}
	return sess, nil
}
