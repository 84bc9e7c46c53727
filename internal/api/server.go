package api

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/vascoliveira2511/WatchLog/internal/api/handlers"
	"github.com/vascoliveira2511/WatchLog/internal/api/middleware"
	"github.com/vascoliveira2511/WatchLog/internal/config"
	"github.com/vascoliveira2511/WatchLog/internal/controllers"
	"github.com/vascoliveira2511/WatchLog/internal/models"
)

// Server represents the HTTP server
type Server struct {
	app        *fiber.App
	addr       string
	db         *models.Database
	transition *controllers.TransitionController
	catalog    handlers.Searcher
	tokens     middleware.TokenVerifier
	logger     *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, db *models.Database, transition *controllers.TransitionController, catalog handlers.Searcher, tokens middleware.TokenVerifier, logger *logrus.Logger) *Server {
	s := &Server{
		addr:       ":" + cfg.ServerPort,
		db:         db,
		transition: transition,
		catalog:    catalog,
		tokens:     tokens,
		logger:     logger,
	}

	errorHandler := handlers.NewErrorHandler(logger)
	s.app = fiber.New(fiber.Config{
		AppName:               "watchlog",
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		IdleTimeout:           60 * time.Second,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(middleware.Logging(logger, errorHandler))
	s.setupRoutes()

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check and metrics
	healthHandler := handlers.NewHealthHandler(s.db, s.logger)
	s.app.Get("/health", healthHandler.Check)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api", middleware.Auth(s.tokens, s.logger))

	// Watch state
	stateHandler := handlers.NewStateHandler(s.transition, s.logger)
	api.Get("/state/:type/:id", stateHandler.Get)
	api.Post("/state/:type/:id", stateHandler.Apply)
	api.Post("/shows/:id/episodes/toggle", stateHandler.ToggleEpisode)
	api.Post("/shows/:id/episodes", stateHandler.SetEpisodes)

	// Library listings
	libraryHandler := handlers.NewLibraryHandler(s.transition, s.logger)
	api.Get("/watchlist", libraryHandler.Watchlist)
	api.Delete("/watchlist/:type/:id", stateHandler.RemoveFromWatchlist)
	api.Get("/history", libraryHandler.History)
	api.Get("/activities", libraryHandler.Activities)

	statsHandler := handlers.NewStatsHandler(s.transition, s.logger)
	api.Get("/stats", statsHandler.Get)

	// Catalog
	searchHandler := handlers.NewSearchHandler(s.catalog, s.logger)
	api.Get("/search", searchHandler.Search)
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.app.Listen(s.addr); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(shutdownCtx)
}
