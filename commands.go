package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	database "github.com/FACorreiaa/go-trip-planner/app/db"
	appLogger "github.com/FACorreiaa/go-trip-planner/app/logger"
	"github.com/FACorreiaa/go-trip-planner/app/observability/metrics"
	"github.com/FACorreiaa/go-trip-planner/app/tracer"
	"github.com/FACorreiaa/go-trip-planner/config"
	"github.com/FACorreiaa/go-trip-planner/internal/container"
	"github.com/FACorreiaa/go-trip-planner/internal/router"
)

const defaultShutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the planner with its operational HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply database migrations on start")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			dbConfig, err := database.NewDatabaseConfig(&cfg, logger)
			if err != nil {
				return err
			}
			return database.RunMigrations(dbConfig.ConnectionURL, logger)
		},
	}
}

func bootstrap() (config.Config, *slog.Logger, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("error initializing config: %w", err)
	}
	logger := appLogger.New(cfg.Mode)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runServe(ctx context.Context, skipMigrations bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	shutdownTelemetry, err := tracer.InitTracingAndMetrics(version)
	if err != nil {
		logger.Error("Failed to initialize telemetry", slog.Any("error", err))
		return err
	}
	metrics.InitAppMetrics()

	if !skipMigrations {
		dbConfig, err := database.NewDatabaseConfig(&cfg, logger)
		if err != nil {
			return err
		}
		if err := database.RunMigrations(dbConfig.ConnectionURL, logger); err != nil {
			logger.Error("Failed to run database migrations", slog.Any("error", err))
			return err
		}
	}

	c, err := container.NewContainer(ctx, &cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize container", slog.Any("error", err))
		return err
	}
	if !c.WaitForDB(ctx) {
		_ = c.Close(context.Background())
		return errors.New("database not ready")
	}

	c.Listener.Start(ctx)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.Server.HTTPPort),
		Handler: router.SetupRouter(&router.Config{
			Logger:    logger,
			DB:        c.Pool,
			RateLimit: cfg.Server.RateLimit,
			Timeout:   cfg.Server.Timeout,
		}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", slog.String("address", srv.Addr), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, starting graceful shutdown...")
	case runErr = <-serveErr:
		logger.Error("HTTP server ListenAndServe error", slog.Any("error", runErr))
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", slog.Any("error", err))
	}
	if err := c.Close(shutdownCtx); err != nil {
		logger.Error("Container shutdown incomplete", slog.Any("error", err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown failed", slog.Any("error", err))
	}

	logger.Info("Application shut down complete")
	return runErr
}
