package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/leadflowhq/leadflow/internal/common"
	"github.com/leadflowhq/leadflow/internal/handlers"
	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/phases"
	"github.com/leadflowhq/leadflow/internal/queue"
	"github.com/leadflowhq/leadflow/internal/services/events"
	"github.com/leadflowhq/leadflow/internal/services/scheduler"
	"github.com/leadflowhq/leadflow/internal/storage/badger"
	"github.com/leadflowhq/leadflow/internal/workers"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService interfaces.EventService

	// Pipeline orchestration
	StateMachine  *phases.StateMachine
	JobQueue      *queue.JobQueue
	WorkerPool    *queue.WorkerPool
	WorkerService *workers.Service

	// Scheduled cleanup
	CleanupScheduler *scheduler.Service

	// HTTP handlers
	WSHandler       *handlers.WebSocketHandler
	CampaignHandler *handlers.CampaignHandler
	JobHandler      *handlers.JobHandler
	StatusHandler   *handlers.StatusHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	storageManager, err := badger.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager

	// Load keyword sets from YAML files before anything can start a campaign
	if err := badger.LoadKeywordSetsFromFiles(ctx, storageManager.KeywordStorage(), cfg.Keywords.Dir, logger); err != nil {
		logger.Warn().Err(err).Msg("Keyword set loading failed")
	}

	app.EventService = events.NewService(logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, &cfg.WebSocket, logger)

	app.StateMachine = phases.NewStateMachine(storageManager, app.EventService, &cfg.Pipeline, logger)

	app.JobQueue = queue.NewJobQueue(
		storageManager.JobStorage(),
		app.EventService,
		app.StateMachine,
		app.WSHandler.ServerInstanceID(),
		cfg.RetryBackoffDuration(),
		logger,
	)

	// Requeue jobs a previous process left running before workers start
	if recovered, err := app.JobQueue.RecoverOrphans(ctx); err != nil {
		logger.Warn().Err(err).Msg("Orphaned job recovery failed")
	} else if recovered > 0 {
		logger.Info().Int("recovered", recovered).Msg("Requeued orphaned jobs")
	}

	app.WorkerService = workers.NewService(storageManager, app.EventService, logger)

	app.WorkerPool = queue.NewWorkerPool(app.JobQueue, &cfg.Queue, logger)
	app.WorkerPool.RegisterHandler(models.JobTypeDomainGeneration, app.WorkerService.HandleDomainGeneration)
	app.WorkerPool.RegisterHandler(models.JobTypeDNSValidation, app.WorkerService.HandleDNSValidation)
	app.WorkerPool.RegisterHandler(models.JobTypeHTTPKeywordValidation, app.WorkerService.HandleHTTPKeywordValidation)
	app.WorkerPool.RegisterHandler(models.JobTypeAnalysis, app.WorkerService.HandleAnalysis)

	app.CleanupScheduler = scheduler.NewService(app.JobQueue, cfg.Cleanup, logger)

	app.CampaignHandler = handlers.NewCampaignHandler(storageManager.CampaignStorage(), storageManager.PhaseStorage(), app.StateMachine, logger)
	app.JobHandler = handlers.NewJobHandler(app.JobQueue, storageManager.JobStorage(), cfg.Cleanup, logger)
	app.StatusHandler = handlers.NewStatusHandler(storageManager.JobStorage(), app.WSHandler.ServerInstanceID(), logger)

	return app, nil
}

// Start launches the background components: workers, keep-alive broadcaster
// and the cleanup scheduler.
func (a *App) Start() error {
	if err := a.WorkerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	a.WSHandler.StartKeepAlive(a.ctx)

	if err := a.CleanupScheduler.Start(); err != nil {
		return fmt.Errorf("failed to start cleanup scheduler: %w", err)
	}

	a.Logger.Info().Msg("Application components started")
	return nil
}

// Shutdown stops background components and closes storage
func (a *App) Shutdown() error {
	a.Logger.Info().Msg("Shutting down application...")

	a.CleanupScheduler.Stop()

	if err := a.WorkerPool.Stop(); err != nil {
		a.Logger.Warn().Err(err).Msg("Worker pool stop failed")
	}

	a.cancelCtx()

	if err := a.EventService.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Event service close failed")
	}

	if err := a.StorageManager.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Storage close failed")
		return err
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
