package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/a-essam23/go-roomsync/pkg/config"
	"github.com/a-essam23/go-roomsync/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	configName string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "roomsync",
	Short:         "Shared-room relay and headless participant",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configName, "config", "config", "config file name or path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func setup() (*slog.Logger, *config.Config, error) {
	logger := logging.New(logging.ParseLevel(logLevel))
	slog.SetDefault(logger)
	cfg, err := config.Load(logger, configName)
	if err != nil {
		return logger, nil, err
	}
	return logger, cfg, nil
}
