package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/a-essam23/go-roomsync/pkg/collab"
	"github.com/a-essam23/go-roomsync/pkg/message"
	"github.com/a-essam23/go-roomsync/pkg/spectate"
	"github.com/a-essam23/go-roomsync/pkg/state/roomstore"
	"github.com/a-essam23/go-roomsync/pkg/transport"
	"github.com/spf13/cobra"
)

var joinTicket string

func init() {
	joinCmd.Flags().StringVar(&joinTicket, "ticket", "", "join ticket issued for the room")
	joinCmd.MarkFlagRequired("ticket")
	rootCmd.AddCommand(joinCmd)
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room as a headless participant and log its activity",
	RunE:  runJoin,
}

func runJoin(cmd *cobra.Command, args []string) error {
	logger, cfg, err := setup()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	highlight, err := cfg.Client.Highlight()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []roomstore.Option{roomstore.WithRestoreConcurrency(cfg.Client.RestoreConcurrency)}
	if highlight != (message.Color{}) {
		opts = append(opts, roomstore.WithDefaultHighlightColor(highlight))
	}
	store := roomstore.New(nil, logger, opts...)
	dial := collab.WebsocketDialer(collab.Endpoint{
		BaseURL:    cfg.Client.Endpoint,
		APIVersion: cfg.Client.APIVersion,
		RoomKind:   cfg.Client.RoomKind,
	}, transport.ConnectionConfig(cfg.Transport), logger)
	session := collab.NewSession(store, spectate.NewMemoryRig(), dial, collab.Options{
		KeepAliveInterval: cfg.Client.KeepAliveInterval,
		DeviceID:          cfg.Client.DeviceID,
		HighlightColor:    highlight,
	}, logger)

	events := collab.NewChannelListener(64, logger)
	session.SetListener(events)
	if err := session.Join(ctx, joinTicket); err != nil {
		return err
	}
	defer session.Leave()
	go session.Run(ctx, cfg.Client.TickInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events.Events():
			logger.Info("Room event", slog.String("event", string(ev.Tag)), slog.String("userID", ev.UserID))
			if d, ok := ev.Payload.(collab.Disconnect); ok {
				return fmt.Errorf("disconnected (%d): %s", d.Code, d.Hint)
			}
		}
	}
}
