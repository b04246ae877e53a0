package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/LukaK/simbiot/internal/config"
	"github.com/LukaK/simbiot/internal/telemetry"
)

var (
	cfgFile  string
	logLevel string

	// cfg is populated by PersistentPreRunE and shared with all subcommands.
	cfg *config.Config

	// app holds all wired dependencies; populated by PersistentPreRunE.
	app *AppContext
)

var rootCmd = &cobra.Command{
	Use:   "simbiot",
	Short: "Simbiot: SageMaker clustering model hosting",
	Long: `Simbiot resolves (or creates) a SageMaker execution role, trains or
loads a clustering model, and serves it behind a serverless endpoint.

Run "simbiot server" for the HTTP API, or use the one-shot commands.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogger(logLevel)

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// --log-level flag takes precedence over value in config file.
		if cmd.Flags().Changed("log-level") {
			cfg.Telemetry.LogLevel = logLevel
		} else if cfg.Telemetry.LogLevel != "" {
			initLogger(cfg.Telemetry.LogLevel)
		}

		app, err = buildAppContext(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("building app context: %w", err)
		}
		return nil
	}

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(roleCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(teardownCmd)
}

// Execute is the entry point called by main.
func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	if app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		app.Close(ctx)
		cancel()
	}
	if err != nil {
		os.Exit(1)
	}
}

// Logs go to stderr so one-shot commands keep stdout for their JSON result.
func initLogger(level string) {
	slog.SetDefault(telemetry.NewLogger(os.Stderr, level))
}
