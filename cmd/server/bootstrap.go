package main

import (
	"context"

	"github.com/commitlore/backend/internal/config"
	"github.com/commitlore/backend/internal/handlers"
	"github.com/commitlore/backend/internal/models"
	"github.com/commitlore/backend/internal/services"
	"github.com/commitlore/backend/internal/utils"
	"github.com/commitlore/backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// appServices holds everything bootstrap wires together.
type appServices struct {
	broker        services.JobBroker
	blobs         services.BlobStore
	workers       []*services.Worker
	sweeper       *services.Sweeper
	orchestrator  *services.Orchestrator
	statusAgg     *services.StatusAggregator
	summaryCache  *services.SummaryCacheService
	reportCache   *services.ReportCacheService
	usage         *services.UsageService
	resolver      services.CommitResolver
	authHandler   *handlers.AuthHandler
	reportHandler *handlers.ReportHandler
	commitHandler *handlers.CommitHandler
}

// bootstrap initializes the database, the queue infrastructure and the
// pipeline services.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}
	db := models.GetDB()

	broker, err := services.NewAsynqBroker(&cfg.Redis, &cfg.Queues)
	if err != nil {
		logger.Fatalf("Failed to connect to job broker: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	locks := services.NewRedisLocker(rdb)

	blobs, err := services.NewGCSBlobStore(context.Background(), &cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize blob store: %v", err)
	}

	summaryCache := services.NewSummaryCacheService(db, broker, locks)
	reportCache := services.NewReportCacheService(db, blobs)
	usage := services.NewUsageService(db, cfg.LLM.Pricing)
	resolver := services.NewGitHubResolver(&cfg.GitHub)
	llm := services.NewLLMService(&cfg.LLM)
	renderer := services.NewFPDFRenderer()

	orchestrator := services.NewOrchestrator(
		db, broker, summaryCache, reportCache, usage,
		resolver, llm, renderer, blobs, locks,
	)

	// One worker per queue so concurrency is tuned independently.
	summaryWorker := services.NewWorker(&cfg.Redis, services.QueueSummary, &cfg.Queues.Summary)
	reportWorker := services.NewWorker(&cfg.Redis, services.QueueReport, &cfg.Queues.Report)
	pdfWorker := services.NewWorker(&cfg.Redis, services.QueuePDF, &cfg.Queues.PDF)
	orchestrator.RegisterHandlers(summaryWorker, reportWorker, pdfWorker)

	workers := []*services.Worker{summaryWorker, reportWorker, pdfWorker}
	for _, w := range workers {
		w.Start()
	}

	sweeper := services.NewSweeper(db, broker, reportCache, summaryCache, blobs)
	sweeper.Start()

	authHandler := handlers.NewAuthHandler(db, cfg)
	if err := authHandler.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	statusAgg := services.NewStatusAggregator(db, broker)
	auth := services.NewAuthService(db, &cfg.JWT)

	return &appServices{
		broker:       broker,
		blobs:        blobs,
		workers:      workers,
		sweeper:      sweeper,
		orchestrator: orchestrator,
		statusAgg:    statusAgg,
		summaryCache: summaryCache,
		reportCache:  reportCache,
		usage:        usage,
		resolver:     resolver,
		authHandler:  authHandler,
		reportHandler: handlers.NewReportHandler(
			db, orchestrator, statusAgg, reportCache, auth, blobs,
		),
		commitHandler: handlers.NewCommitHandler(resolver, auth),
	}
}

// shutdown stops background processing, draining in-flight jobs.
func (s *appServices) shutdown() {
	s.sweeper.Stop()
	for _, w := range s.workers {
		w.Stop()
	}
	if err := s.broker.Close(); err != nil {
		logger.Warn().Err(err).Msg("Broker close")
	}
	if err := s.blobs.Close(); err != nil {
		logger.Warn().Err(err).Msg("Blob store close")
	}
	logger.Info().Msg("Background services stopped")
}
