package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcade-scores/internal/domain"
)

// newTestRepository connects to the database named by ARCADE_TEST_POSTGRES_DSN and skips
// the test when it is unset.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	dsn := os.Getenv("ARCADE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ARCADE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := &Repository{pool: pool, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	require.NoError(t, repo.RunMigrations(ctx))
	return repo
}

func uniqueBoard(t *testing.T, period domain.Period) domain.BoardKey {
	t.Helper()
	return domain.BoardKey{Scope: "test-" + uuid.NewString()[:8], Period: period}
}

func TestSessionStoreLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	store := NewSessionStore(repo, time.Hour)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	sess := &domain.Session{
		ID:        uuid.NewString(),
		PlayerID:  "player-1",
		GameID:    "space-rocks",
		Mode:      domain.SessionModeRanked,
		Seed:      18446744073709551557,
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
	}
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.Seed, got.Seed)
	require.False(t, got.Consumed)

	_, err = store.Consume(ctx, sess.ID, sess.ExpiresAt.Add(time.Second))
	require.ErrorIs(t, err, domain.ErrSessionExpired)

	got, err = store.Consume(ctx, sess.ID, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, got.Consumed)
	require.NotNil(t, got.ConsumedAt)

	_, err = store.Consume(ctx, sess.ID, now.Add(time.Minute))
	require.ErrorIs(t, err, domain.ErrSessionAlreadyUsed)

	_, err = store.Consume(ctx, uuid.NewString(), now)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	purged, err := store.PurgeExpired(ctx, now.Add(3*time.Hour))
	require.NoError(t, err)
	require.GreaterOrEqual(t, purged, 1)

	_, err = store.Get(ctx, sess.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStoreConcurrentConsume(t *testing.T) {
	repo := newTestRepository(t)
	store := NewSessionStore(repo, time.Hour)
	ctx := context.Background()
	now := time.Now().UTC()

	sess := &domain.Session{
		ID:        uuid.NewString(),
		PlayerID:  "player-1",
		GameID:    "space-rocks",
		Mode:      domain.SessionModeRanked,
		Seed:      42,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
	require.NoError(t, store.Create(ctx, sess))

	var ok, used atomic.Int64
	var wg conc.WaitGroup
	for range 16 {
		wg.Go(func() {
			_, err := store.Consume(ctx, sess.ID, now)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrSessionAlreadyUsed):
				used.Add(1)
			}
		})
	}
	wg.Wait()

	require.Equal(t, int64(1), ok.Load())
	require.Equal(t, int64(15), used.Load())
}

func TestLeaderboardStoreSubmitBest(t *testing.T) {
	repo := newTestRepository(t)
	store := NewLeaderboardStore(repo)
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	daily := uniqueBoard(t, domain.PeriodDaily)
	alltime := domain.BoardKey{Scope: daily.Scope, Period: domain.PeriodAllTime}
	boards := []domain.BoardKey{daily, alltime}

	res, err := store.SubmitBest(ctx, "p1", boards, 100, t0)
	require.NoError(t, err)
	require.True(t, res[0].Improved)
	require.Equal(t, daily, res[0].Board)
	require.Equal(t, alltime, res[1].Board)

	res, err = store.SubmitBest(ctx, "p1", boards, 100, t0.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, res[1].Improved)

	_, err = store.SubmitBest(ctx, "p2", boards, 100, t0.Add(-time.Minute))
	require.NoError(t, err)
	res, err = store.SubmitBest(ctx, "p3", boards, 300, t0)
	require.NoError(t, err)
	require.Equal(t, int64(1), res[0].Rank)

	entries, err := store.Range(ctx, alltime, 0, -1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "p3", entries[0].PlayerID)
	require.Equal(t, "p2", entries[1].PlayerID)
	require.Equal(t, "p1", entries[2].PlayerID)
	require.True(t, entries[2].AchievedAt.Equal(t0))

	entry, err := store.PlayerRank(ctx, alltime, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(3), entry.Rank)

	require.NoError(t, store.Reset(ctx, []domain.BoardKey{daily}))
	count, err := store.Count(ctx, daily)
	require.NoError(t, err)
	require.Zero(t, count)

	require.NoError(t, store.ReplaceBoard(ctx, alltime, entries[:1]))
	count, err = store.Count(ctx, alltime)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	require.NoError(t, store.ReplaceBoard(ctx, alltime, nil))
}

func TestLeaderboardStoreConcurrentPlayers(t *testing.T) {
	repo := newTestRepository(t)
	store := NewLeaderboardStore(repo)
	ctx := context.Background()
	board := uniqueBoard(t, domain.PeriodAllTime)
	now := time.Now().UTC()

	var wg conc.WaitGroup
	for p := range 8 {
		wg.Go(func() {
			for r := int64(1); r <= 5; r++ {
				_, err := store.SubmitBest(ctx, fmt.Sprintf("p%d", p), []domain.BoardKey{board}, int64(p+1)*10+r, now)
				assert.NoError(t, err)
			}
		})
	}
	wg.Wait()

	for p := range 8 {
		e, err := store.PlayerRank(ctx, board, fmt.Sprintf("p%d", p))
		require.NoError(t, err)
		require.Equal(t, int64(p+1)*10+5, e.Score)
		require.Equal(t, int64(8-p), e.Rank)
	}

	require.NoError(t, store.Reset(ctx, []domain.BoardKey{board}))
}

func TestRecordAudit(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	player := "audit-" + uuid.NewString()[:8]

	require.NoError(t, repo.RecordAudit(ctx, domain.AuditRecord{
		SessionID:     uuid.NewString(),
		PlayerID:      player,
		GameID:        "space-rocks",
		FinalScore:    999999,
		Duration:      1000,
		MaxScore:      10,
		Flags:         []string{string(domain.FlagScoreImplausible)},
		Reason:        domain.ReasonScoreExceedsBound,
		Timestamp:     time.Now(),
		HeldForReview: true,
	}))

	records, err := repo.RecentRejections(ctx, player, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, []string{"score_implausible"}, records[0].Flags)
	require.True(t, records[0].HeldForReview)
}
