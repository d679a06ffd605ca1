package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ArionMiles/quina/pkg/config"
	"github.com/ArionMiles/quina/pkg/logging"
)

var version = "dev"

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	logger := logging.Setup(logConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd(logger).ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// logConfig honours LOG_LEVEL and LOG_FORMAT from the config file as well as
// the environment.
func logConfig() logging.Config {
	lc := logging.DefaultConfig()
	cfg, err := config.Load()
	if err != nil {
		return lc
	}
	if cfg.LogLevel != "" {
		lc.Level = logging.ParseLevel(cfg.LogLevel)
	}
	if cfg.LogFormat != "" {
		lc.JSON = strings.EqualFold(cfg.LogFormat, "json")
	}
	return lc
}

func rootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "quina",
		Short:         "Telegram expense assistant backed by Google Sheets",
		Long:          "quina records expenses in a Google Sheet through a Telegram chat and from payment emails arriving in Gmail.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logger)
		},
	}

	root.AddCommand(
		serveCmd(logger),
		setupCmd(logger),
		statusCmd(),
		exportCmd(logger),
	)
	return root
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), logger)
		},
	}
}

func setupCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Register the Telegram webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSetup(cmd.Context(), logger)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration, credentials and API connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !runStatus(cmd.Context(), cmd.OutOrStdout()) {
				return fmt.Errorf("status checks failed")
			}
			return nil
		},
	}
}
