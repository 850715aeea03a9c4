package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aristath/vantage/internal/config"
	"github.com/aristath/vantage/internal/database"
	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/events"
	"github.com/aristath/vantage/internal/modules/advisor"
	advisorhandlers "github.com/aristath/vantage/internal/modules/advisor/handlers"
	"github.com/aristath/vantage/internal/modules/feedback"
	feedbackhandlers "github.com/aristath/vantage/internal/modules/feedback/handlers"
	"github.com/aristath/vantage/internal/modules/ledger"
	ledgerhandlers "github.com/aristath/vantage/internal/modules/ledger/handlers"
	"github.com/aristath/vantage/internal/modules/marketdata"
	marketdatahandlers "github.com/aristath/vantage/internal/modules/marketdata/handlers"
	"github.com/aristath/vantage/internal/modules/portfolio"
	portfoliohandlers "github.com/aristath/vantage/internal/modules/portfolio/handlers"
	"github.com/aristath/vantage/internal/modules/watchlist"
	watchlisthandlers "github.com/aristath/vantage/internal/modules/watchlist/handlers"
	"github.com/aristath/vantage/internal/queue"
	"github.com/aristath/vantage/internal/server"
	"github.com/aristath/vantage/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	appLog := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(appLog)

	// Databases
	ledgerDB, err := database.New(database.Config{
		Path: cfg.LedgerDBPath, Profile: database.ProfileLedger, Name: "ledger",
	})
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	portfolioDB, err := database.New(database.Config{
		Path: cfg.PortfolioDBPath, Profile: database.ProfileStandard, Name: "portfolio",
	})
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to open portfolio database")
	}
	defer portfolioDB.Close()

	cacheDB, err := database.New(database.Config{
		Path: cfg.CacheDBPath, Profile: database.ProfileCache, Name: "cache",
	})
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{ledgerDB, portfolioDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			appLog.Fatal().Err(err).Str("db", db.Name()).Msg("Failed to migrate database")
		}
	}

	// Core plumbing
	bus := events.NewBus(appLog)
	queueManager := queue.NewManager(cfg.QueueWorkers, appLog)

	// Repositories
	tradeRepo := ledger.NewTradeActionRepository(ledgerDB.Conn(), appLog)
	positionRepo := portfolio.NewPositionRepository(ledgerDB.Conn(), appLog)
	snapshotRepo := marketdata.NewSnapshotRepository(cacheDB.Conn(), appLog)
	recRepo := advisor.NewRecommendationRepository(cacheDB.Conn(), appLog)
	feedbackRepo := feedback.NewFeedbackRepository(cacheDB.Conn(), appLog)
	watchlistRepo := watchlist.NewRepository(portfolioDB.Conn(), appLog)

	// Services
	aggregator := portfolio.NewAggregator(ledgerDB.Conn(), positionRepo, tradeRepo, bus, appLog)
	ledgerService := ledger.NewService(ledgerDB.Conn(), tradeRepo, aggregator, bus, appLog)
	marketService := marketdata.NewService(snapshotRepo, bus, appLog)
	advisorService := advisor.NewService(recRepo, appLog)
	engine := advisor.NewEngine(recRepo, positionRepo, snapshotRepo, watchlistRepo, bus, advisor.EngineConfig{
		MinConfidence:      cfg.MinConfidence,
		DefaultExpiry:      cfg.DefaultExpiry,
		RiskAlertThreshold: cfg.RiskAlertThreshold,
	}, appLog)
	feedbackService := feedback.NewService(feedbackRepo, recRepo, advisorService, appLog)

	// Background jobs
	queueManager.Register(queue.JobAdvisorSweep, func(ctx context.Context, job queue.Job) error {
		ownerFilter := job.Payload["owner_id"]
		_, err := engine.Sweep(ctx, ownerFilter)
		return err
	})
	queueManager.Register(queue.JobExpirySweep, func(ctx context.Context, job queue.Job) error {
		_, err := engine.ExpireSweep()
		return err
	})
	queueManager.Register(queue.JobReconcilePositions, func(ctx context.Context, job queue.Job) error {
		ownerID, asset := job.Payload["owner_id"], job.Payload["asset"]
		if ownerID != "" && asset != "" {
			_, _, err := aggregator.Reconcile(ctx, ownerID, asset)
			if errors.Is(err, domain.ErrReconciliationMismatch) {
				// Already logged, flagged, and corrected.
				return nil
			}
			return err
		}
		_, _, err := aggregator.ReconcileAll(ctx)
		return err
	})
	queueManager.Register(queue.JobSnapshotGC, func(ctx context.Context, job queue.Job) error {
		deleted, err := snapshotRepo.DeleteOlderThan(time.Now().UTC().Add(-cfg.SnapshotRetention))
		if deleted > 0 {
			appLog.Info().Int64("deleted", deleted).Msg("Old snapshots pruned")
		}
		return err
	})
	queueManager.Register(queue.JobRecommendationGC, func(ctx context.Context, job queue.Job) error {
		deleted, err := recRepo.DeleteTerminalOlderThan(time.Now().UTC().Add(-cfg.SnapshotRetention))
		if deleted > 0 {
			appLog.Info().Int64("deleted", deleted).Msg("Old recommendations pruned")
		}
		return err
	})

	queue.RegisterListeners(bus, queueManager)

	scheduler := queue.NewScheduler(queueManager, appLog)
	schedules := []struct {
		every time.Duration
		job   queue.Job
	}{
		{cfg.AdvisorSweepEvery, queue.Job{Type: queue.JobAdvisorSweep, Key: "all", Priority: queue.PriorityLow}},
		{cfg.ExpirySweepEvery, queue.Job{Type: queue.JobExpirySweep, Key: "all", Priority: queue.PriorityNormal}},
		{cfg.ReconcileEvery, queue.Job{Type: queue.JobReconcilePositions, Key: "all", Priority: queue.PriorityLow}},
		{24 * time.Hour, queue.Job{Type: queue.JobSnapshotGC, Key: "all", Priority: queue.PriorityLow}},
		{24 * time.Hour, queue.Job{Type: queue.JobRecommendationGC, Key: "all", Priority: queue.PriorityLow}},
	}
	for _, s := range schedules {
		if err := scheduler.Every(s.every, s.job); err != nil {
			appLog.Fatal().Err(err).Str("job", string(s.job.Type)).Msg("Failed to schedule job")
		}
	}

	// HTTP server
	srv := server.New(
		server.Config{Port: cfg.Port},
		[]*database.DB{ledgerDB, portfolioDB, cacheDB},
		queueManager,
		appLog,
		ledgerhandlers.NewHandler(ledgerService, tradeRepo, appLog),
		portfoliohandlers.NewHandler(positionRepo, aggregator, appLog),
		marketdatahandlers.NewHandler(marketService, snapshotRepo, appLog),
		advisorhandlers.NewHandler(advisorService, engine, recRepo, appLog),
		feedbackhandlers.NewHandler(feedbackService, appLog),
		watchlisthandlers.NewHandler(watchlistRepo, appLog),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queueManager.Run(ctx)
	scheduler.Start()

	go func() {
		if err := srv.Start(); err != nil {
			appLog.Fatal().Err(err).Msg("Server failed")
		}
	}()

	appLog.Info().Int("port", cfg.Port).Str("data_dir", cfg.DataDir).Msg("Vantage started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error().Err(err).Msg("Server shutdown error")
	}

	scheduler.Stop()
	cancel()
	queueManager.Wait()

	appLog.Info().Msg("Shutdown complete")
}
