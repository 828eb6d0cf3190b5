// Package worker runs the background jobs of the score service.
package worker

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/leaderboard"
)

// Mirror is a durable copy of the ranked boards
type Mirror interface {
	Boards(ctx context.Context) ([]domain.BoardKey, error)
	Range(ctx context.Context, board domain.BoardKey, start, stop int64) ([]domain.LeaderboardEntry, error)
	ReplaceBoard(ctx context.Context, board domain.BoardKey, entries []domain.LeaderboardEntry) error
}

// SyncWorker periodically mirrors the primary boards into durable storage
type SyncWorker struct {
	primary *leaderboard.Service
	mirror  Mirror
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	primary *leaderboard.Service,
	mirror Mirror,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		primary: primary,
		mirror:  mirror,
		config:  cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll copies every primary board into the mirror. Mirror boards the primary no longer
// holds (rolled over periods) are emptied.
func (w *SyncWorker) syncAll(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	boards, err := w.primary.Boards(ctx)
	if err != nil {
		w.logger.Error("failed to list boards for sync", "error", err)
		return
	}

	mirrored, err := w.mirror.Boards(ctx)
	if err != nil {
		w.logger.Error("failed to list mirrored boards", "error", err)
		return
	}

	syncedCount := 0
	errorCount := 0

	for _, board := range boards {
		if err := w.SyncToMirror(ctx, board); err != nil {
			w.logger.Error("failed to sync board", "board", board.String(), "error", err)
			errorCount++
		} else {
			syncedCount++
		}
	}

	for _, board := range mirrored {
		if slices.Contains(boards, board) {
			continue
		}
		if err := w.mirror.ReplaceBoard(ctx, board, nil); err != nil {
			w.logger.Error("failed to clear stale board", "board", board.String(), "error", err)
			errorCount++
		}
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"synced", syncedCount,
		"errors", errorCount,
	)
}

// SyncToMirror replaces the mirrored copy of one board with the primary's entries
func (w *SyncWorker) SyncToMirror(ctx context.Context, board domain.BoardKey) error {
	entries, err := w.primary.Entries(ctx, board)
	if err != nil {
		return err
	}

	if err := w.mirror.ReplaceBoard(ctx, board, entries); err != nil {
		return err
	}

	w.logger.Debug("synced board to mirror", "board", board.String(), "player_count", len(entries))
	return nil
}

// SyncFromMirror merges one mirrored board back into the primary, page by page.
// Entries only replace a stored best they improve on.
func (w *SyncWorker) SyncFromMirror(ctx context.Context, board domain.BoardKey) (int, error) {
	batchSize := int64(w.config.BatchSize)
	if batchSize <= 0 {
		batchSize = 1000
	}

	restored := 0
	for start := int64(0); ; start += batchSize {
		entries, err := w.mirror.Range(ctx, board, start, start+batchSize-1)
		if err != nil {
			return restored, err
		}
		n, err := w.primary.Restore(ctx, board, entries)
		restored += n
		if err != nil {
			return restored, err
		}
		if int64(len(entries)) < batchSize {
			return restored, nil
		}
	}
}

// SyncAllFromMirror restores every mirrored board into the primary. Used at startup.
func (w *SyncWorker) SyncAllFromMirror(ctx context.Context) error {
	w.logger.Info("restoring boards from mirror")

	boards, err := w.mirror.Boards(ctx)
	if err != nil {
		return err
	}

	total := 0
	for _, board := range boards {
		n, err := w.SyncFromMirror(ctx, board)
		if err != nil {
			w.logger.Error("failed to restore board", "board", board.String(), "error", err)
			continue
		}
		total += n
	}

	w.logger.Info("completed restoring boards from mirror", "boards", len(boards), "restored", total)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}
