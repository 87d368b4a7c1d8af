package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/common"
	"github.com/molflow/microq/internal/handlers"
	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/lifecycle"
	"github.com/molflow/microq/internal/scheduler"
	"github.com/molflow/microq/internal/services/auth"
	badgerstore "github.com/molflow/microq/internal/storage/badger"
	"github.com/molflow/microq/internal/storage/sqlite"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// StorageErr holds a storage initialization failure. While set, the
	// REST surface answers 503 instead of crashing the process.
	StorageErr error

	// Storage
	DB         *sqlite.DB
	TokenStore interfaces.TokenStore
	Jobs       interfaces.JobStore
	Projects   interfaces.ProjectStore
	Users      interfaces.UserStore
	Lifecycle  interfaces.LifecycleStore

	// Services
	AuthService *auth.Service
	Manager     *lifecycle.Manager
	Scheduler   *scheduler.Scheduler

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	AdminHandler     *handlers.AdminHandler
	ProjectHandler   *handlers.ProjectHandler
	JobHandler       *handlers.JobHandler
	AnalyticsHandler *handlers.AnalyticsHandler

	reconciler *cron.Cron
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// The API handler has no storage dependencies; it stays up even when
	// the rest of the stack fails to come up.
	app.APIHandler = handlers.NewAPIHandler(logger)

	if err := app.initStorage(); err != nil {
		app.StorageErr = err
		logger.Error().Err(err).Msg("Storage initialization failed, serving degraded")
		return app, nil
	}

	app.initServices()
	app.initHandlers()

	if cfg.Reconcile.Enabled {
		if err := app.startReconciler(); err != nil {
			return nil, fmt.Errorf("failed to start reconciler: %w", err)
		}
	}

	logger.Info().
		Str("database", cfg.Database.Path).
		Bool("reconcile", cfg.Reconcile.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the SQLite store and the Badger token store.
func (a *App) initStorage() error {
	db, err := sqlite.NewDB(a.Logger, &a.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = db
	a.Logger.Debug().Str("path", a.Config.Database.Path).Msg("Database initialized")

	tokens, err := badgerstore.NewTokenStorage(a.Logger, &a.Config.Tokens)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to open token store: %w", err)
	}
	a.TokenStore = tokens

	a.Jobs = sqlite.NewJobStorage(db, a.Logger)
	a.Projects = sqlite.NewProjectStorage(db, a.Logger)
	a.Users = sqlite.NewUserStorage(db, a.Logger)
	a.Lifecycle = sqlite.NewLifecycleStorage(db, a.Logger)

	return nil
}

// initServices initializes the business services in dependency order.
func (a *App) initServices() {
	a.AuthService = auth.NewService(a.Users, a.TokenStore, a.Config.Admin, a.Logger)
	a.Manager = lifecycle.NewManager(a.Lifecycle, a.Logger)
	a.Scheduler = scheduler.New(a.Projects, a.Jobs, a.Logger, a.Config.Scheduler.FetchWindow)
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.AdminHandler = handlers.NewAdminHandler(a.AuthService, a.Config.Tokens.DurationSeconds, a.Logger)
	a.ProjectHandler = handlers.NewProjectHandler(a.Projects, a.Jobs, a.AuthService, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.Jobs, a.Projects, a.Manager, a.Scheduler, a.AuthService, a.Logger)
	a.AnalyticsHandler = handlers.NewAnalyticsHandler(a.Jobs, a.Projects, a.Logger)
}

// startReconciler schedules the periodic counter reconciliation task.
func (a *App) startReconciler() error {
	c := cron.New()
	_, err := c.AddFunc(a.Config.Reconcile.Schedule, a.reconcileAll)
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", a.Config.Reconcile.Schedule, err)
	}
	c.Start()
	a.reconciler = c

	a.Logger.Info().Str("schedule", a.Config.Reconcile.Schedule).Msg("Counter reconciler started")
	return nil
}

// reconcileAll recomputes counters for every registered project.
func (a *App) reconcileAll() {
	ctx := context.Background()
	projects, err := a.Projects.List(ctx, interfaces.ProjectFilter{})
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Reconciler failed to list projects")
		return
	}

	for _, p := range projects {
		changed, err := a.Lifecycle.ReconcileProject(ctx, p.ID)
		if err != nil {
			a.Logger.Warn().Err(err).Str("project", p.ID).Msg("Failed to reconcile project")
			continue
		}
		if changed {
			a.Logger.Info().Str("project", p.ID).Msg("Corrected drifted project counters")
		}
	}
}

// Close closes all application resources
func (a *App) Close() error {
	if a.reconciler != nil {
		ctx := a.reconciler.Stop()
		<-ctx.Done()
		a.Logger.Info().Msg("Counter reconciler stopped")
	}

	if a.TokenStore != nil {
		if err := a.TokenStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close token store")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
		a.Logger.Info().Msg("Database closed")
	}

	return nil
}
