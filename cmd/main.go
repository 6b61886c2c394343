package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"brightpath/internal/bootstrap"
	"brightpath/internal/broadcast"
	"brightpath/internal/config"
	cronpkg "brightpath/internal/cron"
	"brightpath/internal/filestore"
	"brightpath/internal/handler/api"
	"brightpath/internal/health"
	"brightpath/internal/pipeline"
	"brightpath/internal/provider"
	"brightpath/internal/quota"
	"brightpath/internal/repository"
	"brightpath/internal/retry"
	"brightpath/internal/router"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database schema", zap.Error(err))
	}

	// --- Broadcaster (Redis with in-memory fallback) ---
	broadcaster, bErr := broadcast.New(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB, logger)
	if bErr != nil {
		logger.Warn("Redis unavailable for status broadcasting, using in-memory fallback", zap.Error(bErr))
	}

	// --- Repositories ---
	jobRepo := repository.NewJobRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	healthRepo := repository.NewProviderHealthRepository(db)

	// --- Providers ---
	registry, err := provider.BuildRegistry(cfg.Providers.Endpoints)
	if err != nil {
		logger.Fatal("Failed to build provider registry", zap.Error(err))
	}
	tracker := provider.NewTracker(healthRepo, cfg.Providers.FailureThreshold, cfg.Providers.Cooldown)

	// --- Services ---
	quotaService := quota.NewService(db, cfg.Quota.MonthlyLimit)
	files := filestore.New(cfg.FileStore)
	policy := retry.NewPolicy(cfg.Pipeline.RetryBase)
	aggregator := health.NewAggregator(jobRepo, tracker)

	// --- Workers ---
	extractionWorker := pipeline.NewExtractionWorker(pipeline.ExtractionWorkerDeps{
		Jobs:         jobRepo,
		Docs:         docRepo,
		Files:        files,
		Tracker:      tracker,
		Registry:     registry,
		Order:        cfg.Providers.ExtractionOrder,
		Policy:       policy,
		Broadcaster:  broadcaster,
		Logger:       logger,
		PollInterval: cfg.Pipeline.PollInterval,
		Timeout:      cfg.Pipeline.ExtractionTimeout,
		MaxFileKB:    cfg.Pipeline.MaxFileSizeKB,
	})
	analysisWorker := pipeline.NewAnalysisWorker(pipeline.AnalysisWorkerDeps{
		Jobs:         jobRepo,
		Docs:         docRepo,
		Analysis:     analysisRepo,
		Quota:        quotaService,
		Tracker:      tracker,
		Registry:     registry,
		Order:        cfg.Providers.AnalysisOrder,
		Policy:       policy,
		Broadcaster:  broadcaster,
		Logger:       logger,
		PollInterval: cfg.Pipeline.PollInterval,
		Timeout:      cfg.Pipeline.AnalysisTimeout,
	})
	reportOrchestrator := pipeline.NewReportOrchestrator(pipeline.ReportOrchestratorDeps{
		Jobs:         jobRepo,
		Docs:         docRepo,
		Analysis:     analysisRepo,
		Quota:        quotaService,
		Tracker:      tracker,
		Registry:     registry,
		Order:        cfg.Providers.AnalysisOrder,
		Broadcaster:  broadcaster,
		Logger:       logger,
		PollInterval: cfg.Pipeline.PollInterval,
		ItemTimeout:  cfg.Pipeline.AnalysisTimeout,
	})

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	go extractionWorker.Run(workerCtx)
	go analysisWorker.Run(workerCtx)

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true

	deps := &api.Deps{
		Jobs:        jobRepo,
		Docs:        docRepo,
		Analysis:    analysisRepo,
		Quota:       quotaService,
		Tracker:     tracker,
		Health:      aggregator,
		Reports:     reportOrchestrator,
		Broadcaster: broadcaster,
	}
	router.Setup(e, deps, logger, cfg.API.Key)

	// --- Cron Scheduler ---
	scheduler := cronpkg.New(cfg, jobRepo, broadcaster, logger)
	scheduler.Start()

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting BrightPath server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop workers
	stopWorkers()

	// Stop cron
	ctx := scheduler.Stop()
	<-ctx.Done()

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
