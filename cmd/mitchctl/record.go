package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/mitchd/internal/protocol"
)

var recordCmd = &cobra.Command{
	Use:   "record <name>",
	Short: "Start streaming a connected mitch device to its LSL outlet",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecord,
}

func runRecord(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	if _, err := send(ctx, protocol.ClientCommand{Record: &protocol.NamedCommand{Name: args[0]}}); err != nil {
		return err
	}
	fmt.Printf("recording started for %s\n", args[0])
	return nil
}
