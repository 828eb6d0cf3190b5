package worker

import (
	"context"
	"log/slog"
	"time"
)

// SessionPurger drops sessions whose retention window has passed
type SessionPurger interface {
	Purge(ctx context.Context) (int, error)
}

// Sweeper purges expired and retained consumed sessions on a fixed interval
type Sweeper struct {
	sessions SessionPurger
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSweeper creates a session sweeper
func NewSweeper(sessions SessionPurger, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("session sweeper started", "interval", s.interval)
	go func() {
		defer close(s.doneCh)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// Stop waits for the sweep loop to exit
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("session sweeper stopped")
}

// SweepOnce runs one purge pass
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	n, err := s.sessions.Purge(ctx)
	if err != nil {
		s.logger.Error("failed to purge sessions", "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Info("purged sessions", "count", n)
	}
	return n
}
