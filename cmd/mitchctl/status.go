package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/mitchd/internal/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the power/health status of every connected mitch device",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	resp, err := send(ctx, protocol.ClientCommand{Status: true})
	if err != nil {
		return err
	}
	printStatus(resp.Status)
	return nil
}
