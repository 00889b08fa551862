package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/mitchd/internal/protocol"
)

var connectCmd = &cobra.Command{
	Use:   "connect <name>",
	Short: "Connect to a mitch device by its advertised name",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	if _, err := send(ctx, protocol.ClientCommand{Connect: &protocol.NamedCommand{Name: args[0]}}); err != nil {
		return err
	}
	fmt.Printf("connected %s\n", args[0])
	return nil
}
