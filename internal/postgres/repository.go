// Package postgres implements durable session and leaderboard stores and the submission
// audit log on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Migrations are applied in order; each statement is idempotent
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS game_sessions (
		id VARCHAR(64) PRIMARY KEY,
		player_id VARCHAR(128) NOT NULL,
		game_id VARCHAR(64) NOT NULL,
		mode VARCHAR(16) NOT NULL,
		tournament_id VARCHAR(64) NOT NULL DEFAULT '',
		seed BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		consumed BOOLEAN NOT NULL DEFAULT FALSE,
		consumed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS leaderboard_entries (
		scope VARCHAR(160) NOT NULL,
		period VARCHAR(16) NOT NULL,
		player_id VARCHAR(128) NOT NULL,
		score BIGINT NOT NULL,
		achieved_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (scope, period, player_id)
	)`,
	`CREATE TABLE IF NOT EXISTS submission_audit (
		id BIGSERIAL PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL,
		player_id VARCHAR(128) NOT NULL DEFAULT '',
		game_id VARCHAR(64) NOT NULL,
		final_score BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL,
		input_count INT NOT NULL,
		max_score BIGINT NOT NULL,
		accepted BOOLEAN NOT NULL,
		verified BOOLEAN NOT NULL,
		flags TEXT[] NOT NULL DEFAULT '{}',
		reason VARCHAR(64) NOT NULL DEFAULT '',
		held_for_review BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_game_sessions_expires ON game_sessions(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_leaderboard_entries_rank ON leaderboard_entries(scope, period, score DESC, achieved_at ASC, player_id ASC)`,
	`CREATE INDEX IF NOT EXISTS idx_submission_audit_player ON submission_audit(player_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_submission_audit_rejected ON submission_audit(created_at DESC) WHERE NOT accepted`,
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	for _, migration := range Migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// RecordAudit stores one validation outcome
func (r *Repository) RecordAudit(ctx context.Context, rec domain.AuditRecord) error {
	query := `
		INSERT INTO submission_audit (
			session_id, player_id, game_id, final_score, duration_ms, input_count,
			max_score, accepted, verified, flags, reason, held_for_review, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	flags := rec.Flags
	if flags == nil {
		flags = []string{}
	}
	_, err := r.pool.Exec(ctx, query,
		rec.SessionID,
		rec.PlayerID,
		rec.GameID,
		rec.FinalScore,
		rec.Duration,
		rec.InputCount,
		rec.MaxScore,
		rec.Accepted,
		rec.Verified,
		flags,
		rec.Reason,
		rec.HeldForReview,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording audit: %w", err)
	}
	return nil
}

// RecentRejections returns the newest rejected submissions for a player, newest first
func (r *Repository) RecentRejections(ctx context.Context, playerID string, limit int) ([]domain.AuditRecord, error) {
	query := `
		SELECT session_id, player_id, game_id, final_score, duration_ms, input_count,
			   max_score, accepted, verified, flags, reason, held_for_review, created_at
		FROM submission_audit
		WHERE player_id = $1 AND NOT accepted
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting rejections: %w", err)
	}
	defer rows.Close()

	records := []domain.AuditRecord{}
	for rows.Next() {
		var rec domain.AuditRecord
		err := rows.Scan(
			&rec.SessionID,
			&rec.PlayerID,
			&rec.GameID,
			&rec.FinalScore,
			&rec.Duration,
			&rec.InputCount,
			&rec.MaxScore,
			&rec.Accepted,
			&rec.Verified,
			&rec.Flags,
			&rec.Reason,
			&rec.HeldForReview,
			&rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit records: %w", err)
	}
	return records, nil
}
