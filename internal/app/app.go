package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/common"
	"github.com/mayishidai/tradingagents-cn/internal/handlers"
	"github.com/mayishidai/tradingagents-cn/internal/interfaces"
	"github.com/mayishidai/tradingagents-cn/internal/models"
	"github.com/mayishidai/tradingagents-cn/internal/services/analysis"
	"github.com/mayishidai/tradingagents-cn/internal/services/auth"
	"github.com/mayishidai/tradingagents-cn/internal/services/dataflows"
	"github.com/mayishidai/tradingagents-cn/internal/services/events"
	"github.com/mayishidai/tradingagents-cn/internal/services/scheduler"
	"github.com/mayishidai/tradingagents-cn/internal/services/tasks"
	"github.com/mayishidai/tradingagents-cn/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	EventService     interfaces.EventService
	ProviderRegistry *dataflows.Registry
	DataResolver     interfaces.DataResolver
	Analyzer         interfaces.Analyzer
	TaskService      interfaces.TaskService
	SchedulerService interfaces.SchedulerService
	AuthService      interfaces.AuthService

	TaskHandler         *handlers.TaskHandler
	NotificationHandler *handlers.NotificationHandler
	SchedulerHandler    *handlers.SchedulerHandler
	WSHandler           *handlers.WebSocketHandler
	SSEHandler          *handlers.SSEHandler
	APIHandler          *handlers.APIHandler
}

// New wires the application components together
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	storageManager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.EventService = events.NewService(logger)

	if err := a.setupDataflows(); err != nil {
		storageManager.Close()
		return nil, err
	}
	if err := a.setupAnalyzer(); err != nil {
		storageManager.Close()
		return nil, err
	}

	authService, err := auth.NewService(storageManager.KeyValueStorage(), &config.Auth, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}
	a.AuthService = authService

	a.TaskService = tasks.NewManager(
		storageManager.TaskStorage(),
		storageManager.NotificationStorage(),
		a.DataResolver,
		a.Analyzer,
		a.EventService,
		&config.Tasks,
		logger,
	)

	a.SchedulerService = scheduler.NewService(
		storageManager.JobHistoryStorage(),
		storageManager.JobMetadataStorage(),
		a.EventService,
		config.Scheduler.HistoryLimit,
		logger,
	)
	if err := a.registerScheduledJobs(); err != nil {
		storageManager.Close()
		return nil, err
	}

	if err := a.setupHandlers(); err != nil {
		storageManager.Close()
		return nil, err
	}

	logger.Info().Msg("Application initialized")
	return a, nil
}

// setupDataflows seeds provider configs from the config file and builds
// the registry and resolver
func (a *App) setupDataflows() error {
	ctx := context.Background()
	configStorage := a.StorageManager.DataSourceStorage()
	registry := dataflows.NewRegistry()

	defaultTimeout := a.Config.Dataflows.DefaultTimeoutDuration()

	for _, pc := range a.Config.Dataflows.Providers {
		timeout := defaultTimeout
		if d, err := time.ParseDuration(pc.Timeout); err == nil && d > 0 {
			timeout = d
		}
		var rateLimit time.Duration
		if d, err := time.ParseDuration(pc.RateLimit); err == nil && d > 0 {
			rateLimit = d
		}

		if err := configStorage.Save(ctx, &models.DataSourceConfig{
			Name:      pc.Name,
			BaseURL:   pc.BaseURL,
			Priority:  pc.Priority,
			Enabled:   pc.Enabled,
			Markets:   pc.Markets,
			RateLimit: rateLimit,
			Timeout:   timeout,
		}); err != nil {
			return fmt.Errorf("failed to seed provider %s: %w", pc.Name, err)
		}

		if err := registry.Register(dataflows.NewHTTPProvider(pc.Name, pc.BaseURL, timeout, rateLimit)); err != nil {
			return fmt.Errorf("failed to register provider %s: %w", pc.Name, err)
		}
	}

	a.ProviderRegistry = registry
	a.DataResolver = dataflows.NewResolver(
		configStorage,
		registry,
		a.Config.Tasks.LookbackDays,
		a.Config.Dataflows.ResultLimit,
		a.Logger,
	)

	a.Logger.Info().
		Int("providers", len(a.Config.Dataflows.Providers)).
		Msg("Data resolution layer initialized")
	return nil
}

// setupAnalyzer picks the Claude analyzer when an API key is present,
// the local fallback otherwise
func (a *App) setupAnalyzer() error {
	reportsDir := "./data/reports"

	if a.Config.Claude.APIKey != "" {
		analyzer, err := analysis.NewClaudeAnalyzer(&a.Config.Claude, reportsDir, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize analyzer: %w", err)
		}
		a.Analyzer = analyzer
		return nil
	}

	analyzer, err := analysis.NewLocalAnalyzer(reportsDir, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize analyzer: %w", err)
	}
	a.Analyzer = analyzer
	return nil
}

// registerScheduledJobs loads definitions from the configured directory
// and routes each to a handler by job type
func (a *App) registerScheduledJobs() error {
	if !a.Config.Scheduler.Enabled {
		a.Logger.Info().Msg("Scheduler disabled by configuration")
		return nil
	}

	defs, err := scheduler.LoadDefinitions(a.Config.Scheduler.DefinitionsDir, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load job definitions: %w", err)
	}

	for _, def := range defs {
		fn, err := a.jobFunc(def)
		if err != nil {
			a.Logger.Warn().Err(err).Str("job_id", def.ID).Msg("Skipping job definition")
			continue
		}
		if err := a.SchedulerService.RegisterJob(def, fn); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", def.ID).Msg("Failed to register job")
		}
	}
	return nil
}

// jobFunc builds the work body for a job definition
func (a *App) jobFunc(def *models.JobDefinition) (interfaces.JobFunc, error) {
	switch def.JobType {
	case "market_sync", "":
		// Submits one analysis task per configured symbol
		jobDef := def
		return func() error {
			ctx := context.Background()
			for _, symbol := range jobDef.Symbols {
				spec := &models.TaskSpec{
					Subject:    symbol,
					MarketHint: jobDef.Market,
				}
				if _, err := a.TaskService.Submit(ctx, spec); err != nil {
					return fmt.Errorf("failed to submit task for %s: %w", symbol, err)
				}
			}
			return nil
		}, nil
	case "history_prune":
		jobDef := def
		return func() error {
			ctx := context.Background()
			return a.StorageManager.JobHistoryStorage().Prune(ctx, jobDef.ID, a.Config.Scheduler.HistoryLimit)
		}, nil
	default:
		return nil, fmt.Errorf("unknown job type: %s", def.JobType)
	}
}

// setupHandlers builds the HTTP delivery layer
func (a *App) setupHandlers() error {
	wsHandler, err := handlers.NewWebSocketHandler(a.EventService, a.AuthService, &a.Config.WebSocket, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize WebSocket handler: %w", err)
	}
	a.WSHandler = wsHandler

	sseHandler, err := handlers.NewSSEHandler(a.EventService, a.AuthService, &a.Config.WebSocket, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize SSE handler: %w", err)
	}
	a.SSEHandler = sseHandler

	a.TaskHandler = handlers.NewTaskHandler(a.TaskService, a.Logger)
	a.NotificationHandler = handlers.NewNotificationHandler(a.StorageManager.NotificationStorage(), a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService, a.Logger)
	a.APIHandler = handlers.NewAPIHandler(a.Config, a.SchedulerService, a.WSHandler, a.SSEHandler, a.Logger)
	return nil
}

// Start launches the background services
func (a *App) Start() error {
	if err := a.TaskService.Start(); err != nil {
		return fmt.Errorf("failed to start task service: %w", err)
	}
	if a.Config.Scheduler.Enabled {
		if err := a.SchedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	return nil
}

// Shutdown stops services and closes storage in dependency order
func (a *App) Shutdown() {
	if a.SchedulerService != nil && a.SchedulerService.IsRunning() {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduler stop failed")
		}
	}
	if a.TaskService != nil {
		if err := a.TaskService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Task service stop failed")
		}
	}
	if a.EventService != nil {
		a.EventService.Close()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
		}
	}
	a.Logger.Info().Msg("Application shutdown complete")
}
