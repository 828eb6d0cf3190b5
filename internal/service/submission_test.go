package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"

	"github.com/arcade-scores/internal/checksum"
	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/leaderboard"
	"github.com/arcade-scores/internal/plausibility"
	"github.com/arcade-scores/internal/replay"
	"github.com/arcade-scores/internal/session"
)

type recorder struct {
	mu      sync.Mutex
	audits  []domain.AuditRecord
	events  []domain.ScoreEvent
	updates []domain.RankUpdate
}

func (r *recorder) RecordAudit(_ context.Context, rec domain.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, rec)
	return nil
}

func (r *recorder) PublishScore(_ context.Context, event domain.ScoreEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) BroadcastRankUpdate(update domain.RankUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

type fixture struct {
	svc      *SubmissionService
	now      *time.Time
	rec      *recorder
	sessions session.Store
	boards   *leaderboard.Service
}

func newFixture(t *testing.T, store leaderboard.Store, opts ...func(*config.Config)) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	games := map[string]config.GameConfig{
		"space-rocks": {Name: "Space Rocks", SessionTTL: 15 * time.Minute, PointsPerSecond: 10},
		"pixel-dash":  {Name: "Pixel Dash", SessionTTL: 10 * time.Minute, PointsPerSecond: 50},
	}

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	sessionStore := session.NewMemoryStore(time.Hour)
	sessions := session.NewService(sessionStore, games, time.Second, logger)
	sessions.SetClock(func() time.Time { return now })

	bounder := plausibility.NewBounder(games, cfg.Validation.DurationGrace)
	validator := replay.NewValidator(sessions, bounder, games, cfg.Validation, logger)
	boards := leaderboard.NewService(store, []string{"pixel-dash", "space-rocks"}, cfg.Leaderboard, time.Second, logger)

	rec := &recorder{}
	svc := NewSubmissionService(sessions, validator, boards, logger)
	svc.SetAuditLog(rec)
	svc.SetPublisher(rec)
	svc.SetHub(rec)

	return &fixture{svc: svc, now: &now, rec: rec, sessions: sessionStore, boards: boards}
}

func (f *fixture) play(t *testing.T, playerID, gameID string, score, duration int64) domain.ScoreSubmission {
	t.Helper()

	resp, err := f.svc.CreateSession(context.Background(), domain.CreateSessionRequest{
		PlayerID: playerID,
		GameID:   gameID,
		Mode:     domain.SessionModeRanked,
	})
	require.NoError(t, err)

	inputs := []domain.InputEvent{
		{T: 120, Kind: domain.InputKindDirection, Payload: domain.InputPayload{Up: true}},
		{T: 470, Kind: domain.InputKindAction, Payload: domain.InputPayload{Action: true}},
		{T: 910, Kind: domain.InputKindDirection, Payload: domain.InputPayload{Left: true}},
	}
	return domain.ScoreSubmission{
		SessionID:  resp.SessionID,
		GameID:     gameID,
		Seed:       resp.Seed,
		Inputs:     inputs,
		FinalScore: score,
		Duration:   duration,
		Checksum:   checksum.Digest(resp.Seed, inputs),
	}
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t, leaderboard.NewMemoryStore())

	resp, err := f.svc.CreateSession(context.Background(), domain.CreateSessionRequest{
		PlayerID: "p1",
		GameID:   "space-rocks",
		Mode:     domain.SessionModeRanked,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)
	require.Equal(t, f.now.Add(15*time.Minute).UnixMilli(), resp.ExpiresAt)

	_, err = f.svc.CreateSession(context.Background(), domain.CreateSessionRequest{
		PlayerID: "p1",
		GameID:   "pong",
		Mode:     domain.SessionModeRanked,
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSubmitScoreAccepted(t *testing.T) {
	f := newFixture(t, leaderboard.NewMemoryStore())

	sub := f.play(t, "p1", "space-rocks", 500, 60000)
	*f.now = f.now.Add(time.Minute)

	res, err := f.svc.SubmitScore(context.Background(), sub)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.Verified)
	require.True(t, res.NewBest)
	require.NotNil(t, res.Rank)
	require.Equal(t, int64(1), *res.Rank)
	require.Equal(t, int64(500), res.Score)
	require.Empty(t, res.Flags)
	require.Len(t, res.Boards, 6)
	require.NoError(t, res.Err)

	require.Len(t, f.rec.audits, 1)
	require.True(t, f.rec.audits[0].Accepted)
	require.Equal(t, "p1", f.rec.audits[0].PlayerID)
	require.Equal(t, int64(600), f.rec.audits[0].MaxScore)
	require.Len(t, f.rec.events, 1)
	require.Equal(t, "p1", f.rec.events[0].PlayerID)
	require.Len(t, f.rec.updates, 6)

	// a lower score later is accepted but is not a new best
	sub = f.play(t, "p1", "space-rocks", 200, 30000)
	*f.now = f.now.Add(time.Minute)

	res, err = f.svc.SubmitScore(context.Background(), sub)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.False(t, res.NewBest)
	require.Equal(t, int64(1), *res.Rank)
	require.Len(t, f.rec.updates, 6)
}

func TestSubmitScoreReplayRejected(t *testing.T) {
	f := newFixture(t, leaderboard.NewMemoryStore())

	sub := f.play(t, "p1", "space-rocks", 500, 60000)
	*f.now = f.now.Add(time.Minute)

	first, err := f.svc.SubmitScore(context.Background(), sub)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := f.svc.SubmitScore(context.Background(), sub)
	require.NoError(t, err)
	require.False(t, second.Success)
	require.Equal(t, []string{string(domain.FlagSessionInvalid)}, second.Flags)
	require.Equal(t, domain.ReasonAlreadyUsed, second.Reason)
	require.ErrorIs(t, second.Err, domain.ErrSessionAlreadyUsed)
	require.Nil(t, second.Rank)

	require.Len(t, f.rec.audits, 2)
	require.False(t, f.rec.audits[1].Accepted)
	require.Len(t, f.rec.events, 1)
}

func TestSubmitScoreTamperedRejected(t *testing.T) {
	f := newFixture(t, leaderboard.NewMemoryStore())

	sub := f.play(t, "p1", "space-rocks", 500, 60000)
	*f.now = f.now.Add(time.Minute)

	sub.Inputs = append([]domain.InputEvent(nil), sub.Inputs...)
	sub.Inputs[1].Payload.Action = false

	res, err := f.svc.SubmitScore(context.Background(), sub)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.False(t, res.Verified)
	require.Contains(t, res.Flags, string(domain.FlagChecksumMismatch))
	require.ErrorIs(t, res.Err, domain.ErrChecksumMismatch)

	count, err := f.boards.Stats(context.Background(), domain.BoardKey{Scope: "space-rocks", Period: domain.PeriodAllTime})
	require.NoError(t, err)
	require.Zero(t, count.TotalPlayers)
	require.Empty(t, f.rec.events)
}

func TestSubmitScoreImplausibleRejected(t *testing.T) {
	f := newFixture(t, leaderboard.NewMemoryStore())

	sub := f.play(t, "p1", "pixel-dash", 100000, 1000)
	*f.now = f.now.Add(2 * time.Second)

	res, err := f.svc.SubmitScore(context.Background(), sub)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Flags, string(domain.FlagScoreImplausible))
	require.ErrorIs(t, res.Err, domain.ErrScoreImplausible)
	require.Empty(t, f.rec.updates)
}

func TestSubmitScoreMalformed(t *testing.T) {
	f := newFixture(t, leaderboard.NewMemoryStore())

	sub := f.play(t, "p1", "space-rocks", 500, 60000)
	sub.Checksum = "NOT-HEX"

	_, err := f.svc.SubmitScore(context.Background(), sub)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	require.Empty(t, f.rec.audits)

	stored, err := f.sessions.Get(context.Background(), sub.SessionID)
	require.NoError(t, err)
	require.False(t, stored.Consumed)
}

func TestSubmitScoreConcurrentPlayers(t *testing.T) {
	f := newFixture(t, leaderboard.NewMemoryStore())

	players := []string{"alice", "bob", "carol", "dave"}
	subs := make(map[string][]domain.ScoreSubmission)
	for i, p := range players {
		for s := int64(1); s <= 10; s++ {
			subs[p] = append(subs[p], f.play(t, p, "space-rocks", int64(i)*10+s, 30000))
		}
	}
	*f.now = f.now.Add(time.Minute)

	var failures atomic.Int64
	var wg conc.WaitGroup
	for _, p := range players {
		for _, sub := range subs[p] {
			wg.Go(func() {
				res, err := f.svc.SubmitScore(context.Background(), sub)
				if err != nil || !res.Success {
					failures.Add(1)
				}
			})
		}
	}
	wg.Wait()
	require.Zero(t, failures.Load())

	board := domain.BoardKey{Scope: "space-rocks", Period: domain.PeriodAllTime}
	for i, p := range players {
		entry, err := f.boards.PlayerRank(context.Background(), board, p)
		require.NoError(t, err)
		require.Equal(t, int64(i)*10+10, entry.Score)
		require.Equal(t, int64(len(players)-i), entry.Rank)
	}
}

type failingBoards struct{ leaderboard.Store }

func (failingBoards) SubmitBest(context.Context, string, []domain.BoardKey, int64, time.Time) ([]domain.BoardResult, error) {
	return nil, errors.New("i/o timeout")
}

func TestSubmitScoreLeaderboardUnavailable(t *testing.T) {
	f := newFixture(t, failingBoards{Store: leaderboard.NewMemoryStore()})

	sub := f.play(t, "p1", "space-rocks", 500, 60000)
	*f.now = f.now.Add(time.Minute)

	_, err := f.svc.SubmitScore(context.Background(), sub)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	// the session was burned before the failure
	res, err := f.svc.SubmitScore(context.Background(), sub)
	require.NoError(t, err)
	require.Equal(t, domain.ReasonAlreadyUsed, res.Reason)
}

func TestSubmitScoreFlagPolicyHoldsForReview(t *testing.T) {
	f := newFixture(t, leaderboard.NewMemoryStore(), func(cfg *config.Config) {
		cfg.Validation.ImplausiblePolicy = config.PolicyFlag
	})

	sub := f.play(t, "p1", "pixel-dash", 100000, 1000)
	*f.now = f.now.Add(2 * time.Second)

	res, err := f.svc.SubmitScore(context.Background(), sub)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.True(t, res.HeldForReview)
	require.Nil(t, res.Rank)
	require.Contains(t, res.Flags, string(domain.FlagScoreImplausible))
	require.ErrorIs(t, res.Err, domain.ErrScoreImplausible)

	count, err := f.boards.Stats(context.Background(), domain.BoardKey{Scope: "pixel-dash", Period: domain.PeriodAllTime})
	require.NoError(t, err)
	require.Zero(t, count.TotalPlayers)

	require.Len(t, f.rec.audits, 1)
	require.False(t, f.rec.audits[0].Accepted)
	require.True(t, f.rec.audits[0].HeldForReview)
	require.Empty(t, f.rec.events)
	require.Empty(t, f.rec.updates)
}

// stalled never returns until release is closed, whatever its context says
type stalled struct{ release chan struct{} }

func (s stalled) RecordAudit(context.Context, domain.AuditRecord) error {
	<-s.release
	return nil
}

func (s stalled) PublishScore(context.Context, domain.ScoreEvent) error {
	<-s.release
	return nil
}

func TestSubmitScoreSlowSideEffects(t *testing.T) {
	f := newFixture(t, leaderboard.NewMemoryStore())

	slow := stalled{release: make(chan struct{})}
	t.Cleanup(func() { close(slow.release) })
	f.svc.SetAuditLog(slow)
	f.svc.SetPublisher(slow)
	f.svc.SetSideEffectTimeout(50 * time.Millisecond)

	testCases := []struct {
		name    string
		score   int64
		success bool
	}{
		{name: "accepted", score: 250, success: true},
		{name: "rejected", score: 5000000, success: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sub := f.play(t, "p1", "space-rocks", tc.score, 30000)
			*f.now = f.now.Add(time.Minute)

			start := time.Now()
			res, err := f.svc.SubmitScore(context.Background(), sub)
			require.NoError(t, err)
			require.Equal(t, tc.success, res.Success)
			require.Less(t, time.Since(start), 2*time.Second)
		})
	}
}

func TestSubmitScoreConcurrentSamePlayer(t *testing.T) {
	f := newFixture(t, leaderboard.NewMemoryStore())

	const runs = 40
	subs := make([]domain.ScoreSubmission, 0, runs)
	for i := range runs {
		score := int64((i*17)%runs + 1)
		subs = append(subs, f.play(t, "alice", "space-rocks", score, 30000))
	}
	*f.now = f.now.Add(time.Minute)

	var failures atomic.Int64
	var wg conc.WaitGroup
	for _, sub := range subs {
		wg.Go(func() {
			res, err := f.svc.SubmitScore(context.Background(), sub)
			if err != nil || !res.Success {
				failures.Add(1)
			}
		})
	}
	wg.Wait()
	require.Zero(t, failures.Load())

	for _, period := range []domain.Period{domain.PeriodAllTime, domain.PeriodDaily, domain.PeriodWeekly} {
		board := domain.BoardKey{Scope: "space-rocks", Period: period}
		entry, err := f.boards.PlayerRank(context.Background(), board, "alice")
		require.NoError(t, err)
		require.Equal(t, int64(runs), entry.Score)
		require.Equal(t, int64(1), entry.Rank)

		stats, err := f.boards.Stats(context.Background(), board)
		require.NoError(t, err)
		require.Equal(t, int64(1), stats.TotalPlayers)
	}
}
