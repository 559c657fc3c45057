package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridsense/pdmon/internal/api"
	"github.com/gridsense/pdmon/internal/services"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the ops API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rt)
		},
	}
}

func runServe(rt *runtime) error {
	cfg, logger := rt.cfg, rt.logger

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case sig := <-signals:
			logger.Info("Received signal, initiating shutdown", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	database, err := rt.openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	// Initialize service provider
	serviceProvider := services.NewServiceProvider(logger, cfg, database)
	if err := serviceProvider.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	if err := serviceProvider.Start(ctx); err != nil {
		serviceProvider.Shutdown()
		return fmt.Errorf("failed to start services: %w", err)
	}
	logger.Info("Service provider started")

	// Create API router
	router := api.NewRouter(
		cfg,
		logger,
		serviceProvider.GetRepositories(),
		serviceProvider.GetScheduler(),
		serviceProvider.GetMetrics(),
		serviceProvider.GetStreamHub(),
	)
	router.SetupRoutes()

	// Create HTTP server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router.GetEngine(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("address", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for cancellation signal or a listener failure
	select {
	case <-ctx.Done():
	case err = <-serverErr:
		logger.Error("Server error", zap.Error(err))
	}
	logger.Info("Shutting down server")

	// Create a timeout context for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server first so no new job triggers arrive
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	// Shutdown services
	if err := serviceProvider.Shutdown(); err != nil {
		logger.Error("Error during service shutdown", zap.Error(err))
	}

	logger.Info("Server shutdown complete")
	return err
}
