package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/a-essam23/go-roomsync/internal/server"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, cfg, err := setup()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(logger, ctx, cfg)
	if err != nil {
		return err
	}
	if err := app.Run(); err != nil {
		return fmt.Errorf("application run failed: %w", err)
	}
	logger.Info("Application shut down successfully.", slog.String("addr", cfg.Server.Address))
	return nil
}
