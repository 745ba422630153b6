package main

import (
	"fmt"
	"time"

	"github.com/a-essam23/go-roomsync/pkg/ticket"
	"github.com/spf13/cobra"
)

var (
	ticketRoom string
	ticketName string
	ticketTTL  time.Duration
)

func init() {
	ticketCmd.Flags().StringVar(&ticketRoom, "room", "", "room the ticket admits to")
	ticketCmd.Flags().StringVar(&ticketName, "name", "", "display name of the participant")
	ticketCmd.Flags().DurationVar(&ticketTTL, "ttl", 0, "validity, defaults to server.auth.ticketTTL")
	ticketCmd.MarkFlagRequired("room")
	rootCmd.AddCommand(ticketCmd)
}

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Issue a join ticket signed with the relay secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := setup()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		ttl := ticketTTL
		if ttl == 0 {
			ttl = cfg.Server.Auth.TicketTTL
		}
		tk, err := ticket.Issue(cfg.Server.Auth.TicketSecret, ticketRoom, ticketName, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tk)
		return nil
	},
}
