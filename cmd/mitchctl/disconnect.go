package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/mitchd/internal/protocol"
)

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <name>",
	Short: "Disconnect a connected mitch device",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisconnect,
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	if _, err := send(ctx, protocol.ClientCommand{Disconnect: &protocol.NamedCommand{Name: args[0]}}); err != nil {
		return err
	}
	fmt.Printf("disconnected %s\n", args[0])
	return nil
}
