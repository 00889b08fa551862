package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/mitchd/internal/protocol"
)

var scanTimeoutMS uint64

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby mitch devices",
	Long: `Scan discovers BLE advertisements for the configured timeout window and
prints the advertised names of every device beginning with "mitch".`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Uint64Var(&scanTimeoutMS, "timeout", 2000, "Scan duration in milliseconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(scanTimeoutMS)*time.Millisecond+5*time.Second)
	defer cancel()

	resp, err := send(ctx, protocol.ClientCommand{Scan: &protocol.ScanCommand{TimeoutMS: scanTimeoutMS}})
	if err != nil {
		return err
	}
	printDevices(resp.Devices)
	return nil
}
