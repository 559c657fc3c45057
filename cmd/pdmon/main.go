package main

import (
	"fmt"
	"os"

	"github.com/gridsense/pdmon/internal/config"
	"github.com/gridsense/pdmon/internal/db"
	"github.com/gridsense/pdmon/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runtime holds what every command needs after configuration is loaded
type runtime struct {
	configPath string
	cfg        *config.Config
	logger     *utils.Logger
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	rt := &runtime{}

	rootCmd := &cobra.Command{
		Use:           "pdmon",
		Short:         "Partial-discharge acquisition and alarm worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&rt.configPath, "config", "", "Path to the configuration directory")

	rootCmd.AddCommand(
		serveCommand(rt),
		migrateCommand(rt),
		triggerCommand(rt),
		tokenCommand(rt),
	)
	rootCmd.AddCommand(jobCommands(rt)...)

	return rootCmd
}

// load reads the configuration and builds the logger
func (rt *runtime) load() error {
	cfg, err := config.LoadConfig(rt.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt.cfg = cfg
	rt.logger = logger
	return nil
}

// openDatabase connects to the record store and migrates the schema
func (rt *runtime) openDatabase() (*db.Database, error) {
	database, err := db.NewDatabase(&rt.cfg.Database, rt.logger)
	if err != nil {
		return nil, err
	}

	if err := database.AutoMigrate(); err != nil {
		if closeErr := database.Close(); closeErr != nil {
			rt.logger.Warn("Failed to close database", zap.Error(closeErr))
		}
		return nil, err
	}

	rt.logger.Info("Database initialized")
	return database, nil
}
