package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vascoliveira2511/WatchLog/internal/app"
	"github.com/vascoliveira2511/WatchLog/internal/auth"
	"github.com/vascoliveira2511/WatchLog/internal/config"
	"github.com/vascoliveira2511/WatchLog/internal/models"
	"github.com/vascoliveira2511/WatchLog/internal/utils"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "watchlog",
		Short:         "Track watched movies, show progress and watchlists",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the reconcile scheduler",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe()
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the ledger tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate()
			},
		},
		&cobra.Command{
			Use:   "reconcile",
			Short: "Re-derive every stored show progress once",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runReconcile(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "token <user-id>",
			Short: "Issue a bearer token for a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runToken(cmd, args[0])
			},
		},
	)

	return root
}

func runServe() error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// 2. Wire logger, database, catalog, controllers, server and scheduler
	application, cleanup, err := app.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()
	logger := application.Logger
	logger.Info("Starting WatchLog")

	// 3. Setup tracing
	shutdownTracing, err := utils.InitTracing(cfg.TracingEnabled, os.Stderr, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Error("Failed to flush traces")
		}
	}()

	// 4. Start scheduler
	if err := application.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer application.Scheduler.Stop(30 * time.Second)

	// 5. Start HTTP server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrChan := make(chan error, 1)
	go func() {
		if err := application.Server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	// 6. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("WatchLog is running")

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
		if err := application.Server.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("Error during server shutdown")
		}
	}

	logger.Info("WatchLog stopped")
	return nil
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.WithField("file", cfg.DatabaseFile).Info("Database migrated")
	return nil
}

func runReconcile(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateCatalog(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	core, cleanup, err := app.InitializeCore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	changed, err := core.Progress.ReconcileAll(ctx)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	core.Logger.WithField("changed", changed).Info("Reconcile finished")
	return nil
}

func runToken(cmd *cobra.Command, userID string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tokens, err := auth.NewTokenManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}

	token, expires, err := tokens.Issue(userID)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
	return nil
}
