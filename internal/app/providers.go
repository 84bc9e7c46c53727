package app

import (
	"fmt"

	"github.com/google/wire"
	"github.com/sirupsen/logrus"

	"github.com/vascoliveira2511/WatchLog/internal/api"
	"github.com/vascoliveira2511/WatchLog/internal/api/handlers"
	"github.com/vascoliveira2511/WatchLog/internal/api/middleware"
	"github.com/vascoliveira2511/WatchLog/internal/auth"
	"github.com/vascoliveira2511/WatchLog/internal/config"
	"github.com/vascoliveira2511/WatchLog/internal/controllers"
	"github.com/vascoliveira2511/WatchLog/internal/models"
	"github.com/vascoliveira2511/WatchLog/internal/scheduler"
	"github.com/vascoliveira2511/WatchLog/internal/services/tmdb"
	"github.com/vascoliveira2511/WatchLog/internal/utils"
)

// Core is everything a one-shot command needs to run transitions and
// reconciles against the ledger
type Core struct {
	Config     *config.Config
	Logger     *logrus.Logger
	DB         *models.Database
	Catalog    *tmdb.Client
	Emitter    *controllers.ActivityEmitter
	Progress   *controllers.ProgressController
	Transition *controllers.TransitionController
}

// App is the fully wired HTTP service
type App struct {
	*Core
	Tokens    *auth.TokenManager
	Server    *api.Server
	Scheduler *scheduler.Scheduler
}

// CoreSet provides the ledger, catalog and controllers
var CoreSet = wire.NewSet(
	ProvideLogger,
	ProvideDatabase,
	ProvideBlocklist,
	tmdb.NewClient,
	ProvideActivityEmitter,
	controllers.NewKeyedLocker,
	controllers.NewProgressController,
	controllers.NewTransitionController,
	wire.Bind(new(controllers.Catalog), new(*tmdb.Client)),
	wire.Bind(new(controllers.ActivityRecorder), new(*controllers.ActivityEmitter)),
	wire.Struct(new(Core), "*"),
)

// ServerSet provides the HTTP API and the scheduler on top of CoreSet
var ServerSet = wire.NewSet(
	CoreSet,
	auth.NewTokenManager,
	api.NewServer,
	ProvideScheduler,
	wire.Bind(new(handlers.Searcher), new(*tmdb.Client)),
	wire.Bind(new(middleware.TokenVerifier), new(*auth.TokenManager)),
	wire.Struct(new(App), "*"),
)

// ProvideLogger creates the process logger
func ProvideLogger(cfg *config.Config) *logrus.Logger {
	return utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
}

// ProvideDatabase opens and migrates the ledger
func ProvideDatabase(cfg *config.Config, logger *logrus.Logger) (*models.Database, func(), error) {
	db, err := models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.WithField("file", cfg.DatabaseFile).Info("Database initialized")

	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("Failed to close database")
		}
	}
	return db, cleanup, nil
}

// ProvideBlocklist loads the search blocklist, continuing without one when
// the file cannot be read
func ProvideBlocklist(cfg *config.Config, logger *logrus.Logger) *utils.Blocklist {
	blocklist, err := utils.LoadBlocklist(cfg.BlocklistFile)
	if err != nil {
		logger.WithError(err).Warn("Failed to load blocklist, continuing without it")
		return utils.NewBlocklist()
	}
	logger.WithField("terms", blocklist.Len()).Info("Blocklist loaded")
	return blocklist
}

// ProvideActivityEmitter starts the activity subscriber. Cleanup drains it.
func ProvideActivityEmitter(cfg *config.Config, db *models.Database, logger *logrus.Logger) (*controllers.ActivityEmitter, func(), error) {
	emitter, err := controllers.NewActivityEmitter(db, cfg.ActivityBuffer, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start activity emitter: %w", err)
	}

	cleanup := func() {
		if err := emitter.Close(); err != nil {
			logger.WithError(err).Error("Failed to close activity emitter")
		}
	}
	return emitter, cleanup, nil
}

// ProvideScheduler schedules the reconcile job
func ProvideScheduler(cfg *config.Config, progress *controllers.ProgressController, logger *logrus.Logger) *scheduler.Scheduler {
	return scheduler.NewScheduler(progress, cfg.ReconcileSchedule, logger)
}
