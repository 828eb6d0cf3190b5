package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/handler"
	"github.com/arcade-scores/internal/kafka"
	"github.com/arcade-scores/internal/leaderboard"
	"github.com/arcade-scores/internal/plausibility"
	"github.com/arcade-scores/internal/postgres"
	"github.com/arcade-scores/internal/replay"
	"github.com/arcade-scores/internal/service"
	"github.com/arcade-scores/internal/session"
	"github.com/arcade-scores/internal/websocket"
	"github.com/arcade-scores/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, defaulted, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if defaulted {
		logger.Warn("config file not found, using defaults", "path", *configPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL backs the audit log and the durable mirror, and can serve as the primary store
	var postgresRepo *postgres.Repository
	if cfg.Postgres.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		postgresRepo, err = postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer postgresRepo.Close()

		if err := postgresRepo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to PostgreSQL")
	}

	stores, err := openStores(ctx, cfg, postgresRepo, logger)
	if err != nil {
		logger.Error("failed to open stores", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	// Core services
	sessionService := session.NewService(stores.sessions, cfg.Games, cfg.Store.OpTimeout, logger)
	bounder := plausibility.NewBounder(cfg.Games, cfg.Validation.DurationGrace)
	validator := replay.NewValidator(sessionService, bounder, cfg.Games, cfg.Validation, logger)
	boardService := leaderboard.NewService(stores.boards, cfg.GameIDs(), cfg.Leaderboard, cfg.Store.OpTimeout, logger)
	submissions := service.NewSubmissionService(sessionService, validator, boardService, logger)
	submissions.SetSideEffectTimeout(cfg.Store.OpTimeout)

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	submissions.SetHub(wsHub)
	logger.Info("WebSocket hub initialized")

	if postgresRepo != nil {
		submissions.SetAuditLog(postgresRepo)
	}

	// Mirror Redis boards into PostgreSQL
	var syncWorker *worker.SyncWorker
	if cfg.Store.Driver == config.DriverRedis && postgresRepo != nil {
		syncWorker = worker.NewSyncWorker(boardService, postgres.NewLeaderboardStore(postgresRepo), &cfg.Sync, logger)

		logger.Info("restoring leaderboards from PostgreSQL")
		if err := syncWorker.SyncAllFromMirror(ctx); err != nil {
			logger.Warn("failed to restore leaderboards on startup", "error", err)
		}

		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				logger.Error("failed to start sync worker", "error", err)
				os.Exit(1)
			}
		}
	}

	// Redis expires its own session keys
	var sweeper *worker.Sweeper
	if cfg.Store.Driver != config.DriverRedis {
		sweeper = worker.NewSweeper(sessionService, cfg.Store.SweepInterval, logger)
		sweeper.Start(ctx)
	}

	// Kafka: verified-score events out, period rollover commands in
	var (
		kafkaPublisher *kafka.Publisher
		kafkaConsumer  *kafka.Consumer
	)
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka",
			"brokers", cfg.Kafka.Brokers,
			"scores_topic", cfg.Kafka.ScoresTopic,
			"rollover_topic", cfg.Kafka.RolloverTopic,
		)

		kafkaPublisher, err = kafka.NewPublisher(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka publisher, continuing without score events", "error", err)
		} else {
			submissions.SetPublisher(kafkaPublisher)
		}

		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, boardService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without rollover commands", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without rollover commands", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	httpHandler := handler.NewHandler(submissions, boardService, wsHub, cfg.Games, logger)
	httpHandler.SetAdminToken(cfg.Server.AdminToken)
	if cfg.Server.AdminToken == "" {
		logger.Info("admin token not set, period reset endpoint disabled")
	}
	for name, check := range stores.checks {
		httpHandler.AddReadinessCheck(name, check)
	}
	if postgresRepo != nil {
		httpHandler.AddReadinessCheck("postgres", postgresRepo.Ping)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Drain HTTP first
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	wsHub.Stop()

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("failed to close Kafka publisher", "error", err)
		}
	}

	if sweeper != nil {
		sweeper.Stop()
	}
	if syncWorker != nil {
		// final mirror pass
		syncWorker.RunOnce(shutdownCtx)
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
	}

	logger.Info("server stopped")
}
