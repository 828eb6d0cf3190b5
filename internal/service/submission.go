package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/leaderboard"
	"github.com/arcade-scores/internal/replay"
	"github.com/arcade-scores/internal/session"
)

// AuditLog records every validation outcome
type AuditLog interface {
	RecordAudit(ctx context.Context, rec domain.AuditRecord) error
}

// ScorePublisher forwards accepted scores to downstream consumers
type ScorePublisher interface {
	PublishScore(ctx context.Context, event domain.ScoreEvent) error
}

// Broadcaster pushes rank changes to live subscribers
type Broadcaster interface {
	BroadcastRankUpdate(update domain.RankUpdate)
}

const defaultSideEffectTimeout = 2 * time.Second

// SubmissionService is the entry point for session creation and score submission
type SubmissionService struct {
	sessions          *session.Service
	validator         *replay.Validator
	boards            *leaderboard.Service
	audit             AuditLog
	publisher         ScorePublisher
	hub               Broadcaster
	sideEffectTimeout time.Duration
	logger            *slog.Logger
}

// NewSubmissionService creates a new submission orchestrator
func NewSubmissionService(
	sessions *session.Service,
	validator *replay.Validator,
	boards *leaderboard.Service,
	logger *slog.Logger,
) *SubmissionService {
	return &SubmissionService{
		sessions:          sessions,
		validator:         validator,
		boards:            boards,
		sideEffectTimeout: defaultSideEffectTimeout,
		logger:            logger,
	}
}

// SetSideEffectTimeout bounds how long a submission waits on audit, publish and broadcast
func (s *SubmissionService) SetSideEffectTimeout(d time.Duration) {
	if d > 0 {
		s.sideEffectTimeout = d
	}
}

// SetAuditLog enables the submission audit trail
func (s *SubmissionService) SetAuditLog(a AuditLog) {
	s.audit = a
}

// SetPublisher enables score events for accepted submissions
func (s *SubmissionService) SetPublisher(p ScorePublisher) {
	s.publisher = p
}

// SetHub enables live rank updates
func (s *SubmissionService) SetHub(h Broadcaster) {
	s.hub = h
}

// CreateSession opens a new play session
func (s *SubmissionService) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.CreateSessionResponse, error) {
	sess, err := s.sessions.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := domain.NewCreateSessionResponse(sess)
	return &resp, nil
}

// SubmitScore verifies a submission and, when accepted, ranks it in every board it belongs to.
// Rejections come back as a result with Success false and Err set; the returned error is
// reserved for malformed input and infrastructure failures.
func (s *SubmissionService) SubmitScore(ctx context.Context, sub domain.ScoreSubmission) (*domain.SubmitScoreResult, error) {
	res, err := s.validator.Verify(ctx, sub)
	if err != nil {
		return nil, err
	}
	now := s.sessions.Now()

	if !res.Accepted {
		s.afterSubmit(ctx, sub.SessionID, func(ctx context.Context) { s.record(ctx, sub, res, now) })
		return &domain.SubmitScoreResult{
			Success:       false,
			Verified:      false,
			Score:         sub.FinalScore,
			Flags:         res.FlagStrings(),
			Reason:        res.Reason,
			HeldForReview: res.HeldForReview,
			Err:           res.Err,
		}, nil
	}

	sess := res.Session
	boards, err := s.boards.Submit(ctx, leaderboard.Submission{
		PlayerID:     sess.PlayerID,
		GameID:       sess.GameID,
		Mode:         sess.Mode,
		TournamentID: sess.TournamentID,
		Score:        sub.FinalScore,
		AchievedAt:   now,
	})
	if err != nil {
		// the session is already spent; the client has to start over
		s.logger.Error("failed to rank accepted submission",
			"session_id", sess.ID,
			"player_id", sess.PlayerID,
			"error", err,
		)
		s.afterSubmit(ctx, sess.ID, func(ctx context.Context) { s.record(ctx, sub, res, now) })
		return nil, err
	}

	out := &domain.SubmitScoreResult{
		Success:  true,
		Verified: res.Verified,
		Score:    sub.FinalScore,
		Flags:    res.FlagStrings(),
		Reason:   res.Reason,
		Boards:   boards,
	}
	home := domain.BoardKey{Scope: sess.GameID, Period: domain.PeriodAllTime}
	for _, b := range boards {
		if b.Board == home {
			rank := b.Rank
			out.Rank = &rank
			out.NewBest = b.Improved
		}
	}

	s.afterSubmit(ctx, sess.ID,
		func(ctx context.Context) { s.record(ctx, sub, res, now) },
		func(ctx context.Context) { s.publish(ctx, sess, out, now) },
		func(context.Context) { s.broadcast(sess.PlayerID, boards, now) },
	)

	return out, nil
}

// afterSubmit runs side effects concurrently under their own deadline, detached from
// request cancellation, and waits for them at most sideEffectTimeout.
func (s *SubmissionService) afterSubmit(ctx context.Context, sessionID string, effects ...func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()

	var wg conc.WaitGroup
	for _, effect := range effects {
		wg.Go(func() { effect(ctx) })
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("submission side effects timed out",
			"session_id", sessionID,
			"timeout", s.sideEffectTimeout,
		)
	}
}

func (s *SubmissionService) record(ctx context.Context, sub domain.ScoreSubmission, res *domain.ValidationResult, now time.Time) {
	if s.audit == nil {
		return
	}

	rec := domain.AuditRecord{
		SessionID:     sub.SessionID,
		GameID:        sub.GameID,
		FinalScore:    sub.FinalScore,
		Duration:      sub.Duration,
		InputCount:    len(sub.Inputs),
		MaxScore:      res.MaxScore,
		Accepted:      res.Accepted,
		Verified:      res.Verified,
		Flags:         res.FlagStrings(),
		Reason:        res.Reason,
		Timestamp:     now,
		HeldForReview: res.HeldForReview,
	}
	if res.Session != nil {
		rec.PlayerID = res.Session.PlayerID
	}

	if err := s.audit.RecordAudit(ctx, rec); err != nil {
		s.logger.Warn("failed to record submission audit", "session_id", sub.SessionID, "error", err)
	}
}

func (s *SubmissionService) publish(ctx context.Context, sess *domain.Session, out *domain.SubmitScoreResult, now time.Time) {
	if s.publisher == nil {
		return
	}

	event := domain.ScoreEvent{
		SessionID:    sess.ID,
		PlayerID:     sess.PlayerID,
		GameID:       sess.GameID,
		Mode:         sess.Mode,
		TournamentID: sess.TournamentID,
		Score:        out.Score,
		Verified:     out.Verified,
		Flags:        out.Flags,
		Boards:       out.Boards,
		Timestamp:    now,
	}
	if err := s.publisher.PublishScore(ctx, event); err != nil {
		s.logger.Warn("failed to publish score event", "session_id", sess.ID, "error", err)
	}
}

func (s *SubmissionService) broadcast(playerID string, boards []domain.BoardResult, now time.Time) {
	if s.hub == nil {
		return
	}
	for _, b := range boards {
		if !b.Improved {
			continue
		}
		s.hub.BroadcastRankUpdate(domain.RankUpdate{
			Board:     b.Board,
			PlayerID:  playerID,
			Score:     b.Best,
			Rank:      b.Rank,
			Timestamp: now,
		})
	}
}
