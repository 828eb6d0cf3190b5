package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/handler"
	"github.com/arcade-scores/internal/leaderboard"
	"github.com/arcade-scores/internal/postgres"
	"github.com/arcade-scores/internal/redis"
	"github.com/arcade-scores/internal/session"
)

// storeSet is the session and leaderboard backend selected by store.driver
type storeSet struct {
	sessions session.Store
	boards   leaderboard.Store
	checks   map[string]handler.ReadinessCheck
	closers  []func() error
}

func (s *storeSet) Close() {
	for _, c := range s.closers {
		_ = c()
	}
}

func openStores(ctx context.Context, cfg *config.Config, repo *postgres.Repository, logger *slog.Logger) (*storeSet, error) {
	set := &storeSet{checks: make(map[string]handler.ReadinessCheck)}

	switch cfg.Store.Driver {
	case config.DriverRedis:
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		client, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		set.sessions = redis.NewSessionStore(client, cfg.Store.SessionRetention, logger)
		set.boards = redis.NewLeaderboardStore(client, logger)
		set.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		set.closers = append(set.closers, client.Close)
		logger.Info("connected to Redis")

	case config.DriverPostgres:
		if repo == nil {
			return nil, fmt.Errorf("store driver %q requires postgres.enabled", cfg.Store.Driver)
		}
		set.sessions = postgres.NewSessionStore(repo, cfg.Store.SessionRetention)
		set.boards = postgres.NewLeaderboardStore(repo)

	case config.DriverMemory:
		logger.Warn("using in-memory stores, state is lost on restart")
		set.sessions = session.NewMemoryStore(cfg.Store.SessionRetention)
		set.boards = leaderboard.NewMemoryStore()

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	return set, nil
}
